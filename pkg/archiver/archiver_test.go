package archiver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwbyrd/yalje/pkg/checkpoint"
	"github.com/johnwbyrd/yalje/pkg/config"
	"github.com/johnwbyrd/yalje/pkg/export"
	"github.com/johnwbyrd/yalje/pkg/livejournal"
	"github.com/johnwbyrd/yalje/pkg/models"
)

// fakeLJ serves just enough of the LiveJournal surface for a full run. The
// returned counter records login handshakes.
func fakeLJ(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()

	var loginCalls int32
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "luid", Value: "1:2"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/login.bml", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&loginCalls, 1)
		http.SetCookie(w, &http.Cookie{Name: "ljloggedin", Value: "u:s"})
		http.SetCookie(w, &http.Cookie{Name: "ljmastersession", Value: "v1:u:s:tok"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/export_do.bml", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		month := r.PostFormValue("month")
		if month == "01" {
			fmt.Fprint(w, `<livejournal>
<entry><itemid>116736</itemid><eventtime>2023-01-15 14:30:00</eventtime><logtime>2023-01-15 14:30:00</logtime><subject>Hello</subject><event><![CDATA[First!]]></event><security>public</security></entry>
</livejournal>`)
			return
		}
		fmt.Fprint(w, `<livejournal></livejournal>`)
	})

	mux.HandleFunc("/export_comments.bml", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("get") == "comment_meta" {
			fmt.Fprint(w, `<livejournal><maxid>101</maxid><usermap id="123" user="friend1" /></livejournal>`)
			return
		}
		startID, _ := strconv.Atoi(r.URL.Query().Get("startid"))
		if startID <= 100 {
			fmt.Fprint(w, `<livejournal><comments>
<comment id="100" jitemid="456" posterid="123"><date>2023-01-15T15:00:00Z</date><body>top</body></comment>
<comment id="101" jitemid="456" parentid="100"><date>2023-01-15T16:00:00Z</date><body>reply</body></comment>
</comments></livejournal>`)
			return
		}
		fmt.Fprint(w, `<livejournal><comments></comments></livejournal>`)
	})

	mux.HandleFunc("/inbox/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><table>
<tr class="InboxItem_Row" lj_qid="42"><td><span class="InboxItem_Title">You have a notice</span></td><td class="time">now</td></tr>
</table></body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &loginCalls
}

func testConfig(t *testing.T, baseURL, outputPath string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.LiveJournal.BaseURL = baseURL
	cfg.LiveJournal.Username = "testuser"
	cfg.LiveJournal.Password = "hunter2"
	cfg.RateLimit.RequestDelay = 0
	cfg.RateLimit.RetryBaseDelay = time.Millisecond
	cfg.RateLimit.RetryMaxDelay = time.Millisecond
	cfg.Export.OutputPath = outputPath
	cfg.Export.StartYear, cfg.Export.StartMonth = 2023, 1
	cfg.Export.EndYear, cfg.Export.EndMonth = 2023, 2
	return cfg
}

func newTestArchiver(t *testing.T, cfg *config.Config) *Archiver {
	t.Helper()
	client := livejournal.NewClient(cfg.LiveJournal.BaseURL, 5*time.Second, "yalje-test", nil)
	session := livejournal.NewSessionManager(client, nil)
	checkpoints := checkpoint.NewManagerWithPath(filepath.Join(t.TempDir(), "testuser.checkpoint.json"))
	return NewWithComponents(cfg, client, session, checkpoints, nil)
}

func TestRunFullExport(t *testing.T) {
	server, _ := fakeLJ(t)
	outputPath := filepath.Join(t.TempDir(), "archive.yaml")
	cfg := testConfig(t, server.URL, outputPath)

	a := newTestArchiver(t, cfg)
	report, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PostCount)
	assert.Equal(t, 2, report.CommentCount)
	assert.Equal(t, 1, report.InboxCount)
	assert.Empty(t, report.FailedMonths)
	assert.False(t, report.Resumable)

	bundle, err := export.ReadFile(outputPath)
	require.NoError(t, err)
	require.Len(t, bundle.Posts, 1)
	assert.Equal(t, 116736, bundle.Posts[0].ItemID)
	assert.Equal(t, 456, bundle.Posts[0].JItemID)

	require.Len(t, bundle.Comments, 2)
	require.NotNil(t, bundle.Comments[0].PosterUsername)
	assert.Equal(t, "friend1", *bundle.Comments[0].PosterUsername)
	assert.Equal(t, []int{101}, bundle.Comments[0].Children)

	require.Len(t, bundle.Inbox, 1)
	assert.Equal(t, 42, bundle.Inbox[0].QID)
}

func TestRunDeletesCheckpointOnSuccess(t *testing.T) {
	server, _ := fakeLJ(t)
	outputPath := filepath.Join(t.TempDir(), "archive.json")
	cfg := testConfig(t, server.URL, outputPath)

	a := newTestArchiver(t, cfg)
	_, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, a.checkpoints.Exists())
}

func TestRunBadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "luid", Value: "1:2"})
	})
	mux.HandleFunc("/login.bml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // no session cookies
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.URL, filepath.Join(t.TempDir(), "archive.yaml"))
	a := newTestArchiver(t, cfg)

	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestRunRestoredSessionSkipsLogin(t *testing.T) {
	server, loginCalls := fakeLJ(t)
	outputPath := filepath.Join(t.TempDir(), "archive.yaml")
	cfg := testConfig(t, server.URL, outputPath)

	a := newTestArchiver(t, cfg)
	a.Session().RestoreCookies("testuser", map[string]string{
		"ljloggedin":      "u:s",
		"ljmastersession": "v1:u:s:tok",
	})

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PostCount)
	assert.Equal(t, int32(0), atomic.LoadInt32(loginCalls))
}

func TestRunForceRestartDiscardsCheckpoint(t *testing.T) {
	server, _ := fakeLJ(t)
	outputPath := filepath.Join(t.TempDir(), "archive.yaml")
	cfg := testConfig(t, server.URL, outputPath)
	cfg.Export.ForceRestart = true

	a := newTestArchiver(t, cfg)

	// A stale checkpoint claims everything is already done
	stale, err := a.checkpoints.Create("testuser")
	require.NoError(t, err)
	stale.PostsDone, stale.CommentsDone, stale.InboxDone = true, true, true
	require.NoError(t, a.checkpoints.Save(stale))

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PostCount, "stale checkpoint was discarded, posts re-fetched")
	assert.Equal(t, 2, report.CommentCount)
}

func TestRunResumeDoesNotDuplicateRecords(t *testing.T) {
	server, _ := fakeLJ(t)
	outputPath := filepath.Join(t.TempDir(), "archive.yaml")
	cfg := testConfig(t, server.URL, outputPath)

	a := newTestArchiver(t, cfg)

	// An interrupted run already stored January's post, both comments and
	// the inbox message, and was partway through inbox page 2
	subject := "Hello"
	posterID := 123
	parentID := 100
	top := "top"
	reply := "reply"
	cp, err := a.checkpoints.Create("testuser")
	require.NoError(t, err)
	cp.NextYear, cp.NextMonth = 2023, 2
	cp.EndYear, cp.EndMonth = 2023, 2
	cp.Posts = []models.RawPost{{
		ItemID:    116736,
		EventTime: "2023-01-15 14:30:00",
		LogTime:   "2023-01-15 14:30:00",
		Subject:   &subject,
		Event:     "First!",
		Security:  "public",
	}}
	cp.CommentCursor, cp.CommentMaxID = 101, 101
	cp.Comments = []models.RawComment{
		{ID: 100, JItemID: 456, PosterID: &posterID, Date: "2023-01-15T15:00:00Z", Body: &top},
		{ID: 101, JItemID: 456, ParentID: &parentID, Date: "2023-01-15T16:00:00Z", Body: &reply},
	}
	cp.Users = map[int]string{123: "friend1"}
	cp.InboxFolder, cp.InboxPage = "all", 2
	cp.Inbox = []models.InboxMessage{{QID: 42, Title: "You have a notice", Folder: "all"}}
	require.NoError(t, a.checkpoints.Save(cp))

	report, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PostCount)
	assert.Equal(t, 2, report.CommentCount)
	assert.Equal(t, 1, report.InboxCount, "refetched inbox page must not duplicate stored messages")

	bundle, err := export.ReadFile(outputPath)
	require.NoError(t, err)
	require.Len(t, bundle.Inbox, 1)
	assert.Equal(t, 42, bundle.Inbox[0].QID)
	require.Len(t, bundle.Posts, 1)
	require.Len(t, bundle.Comments, 2)
}

func TestRunSavesCheckpointOnCancel(t *testing.T) {
	server, _ := fakeLJ(t)
	outputPath := filepath.Join(t.TempDir(), "archive.yaml")
	cfg := testConfig(t, server.URL, outputPath)
	cfg.Export.EndYear, cfg.Export.EndMonth = 2030, 12

	a := newTestArchiver(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	report, err := a.Run(ctx)
	require.Error(t, err)
	assert.True(t, report.Resumable)
	assert.True(t, a.checkpoints.Exists(), "checkpoint survives an interrupted run")
}
