package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwbyrd/yalje/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	mgr, err := NewManager("testuser")
	require.NoError(t, err)
	return mgr
}

func TestCreateAndLoad(t *testing.T) {
	mgr := newTestManager(t)

	cp, err := mgr.Create("testuser")
	require.NoError(t, err)
	assert.Equal(t, "testuser", cp.Account)
	assert.True(t, mgr.Exists())

	loaded, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "testuser", loaded.Account)
	assert.NotNil(t, loaded.Users)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	mgr := newTestManager(t)

	cp, err := mgr.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.False(t, mgr.Exists())
}

func TestSaveRoundTripsPipelineState(t *testing.T) {
	mgr := newTestManager(t)

	cp, err := mgr.Create("testuser")
	require.NoError(t, err)

	posterID := 7
	cp.NextYear = 2023
	cp.NextMonth = 4
	cp.CommentCursor = 1500
	cp.CommentMaxID = 2100
	cp.InboxFolder = "usermsg_recvd"
	cp.InboxPage = 3
	cp.Posts = []models.RawPost{{ItemID: 116992, Security: "public"}}
	cp.Comments = []models.RawComment{{ID: 100, JItemID: 456, PosterID: &posterID}}
	cp.Users = map[int]string{7: "frank"}
	cp.Inbox = []models.InboxMessage{{QID: 42, Type: models.MessageTypeSystem, Title: "notice"}}
	require.NoError(t, mgr.Save(cp))

	loaded, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, 2023, loaded.NextYear)
	assert.Equal(t, 4, loaded.NextMonth)
	assert.Equal(t, 1500, loaded.CommentCursor)
	assert.Equal(t, 2100, loaded.CommentMaxID)
	assert.Equal(t, "usermsg_recvd", loaded.InboxFolder)
	assert.Equal(t, 3, loaded.InboxPage)
	require.Len(t, loaded.Posts, 1)
	assert.Equal(t, 116992, loaded.Posts[0].ItemID)
	require.Len(t, loaded.Comments, 1)
	require.NotNil(t, loaded.Comments[0].PosterID)
	assert.Equal(t, 7, *loaded.Comments[0].PosterID)
	assert.Equal(t, "frank", loaded.Users[7])
	require.Len(t, loaded.Inbox, 1)
	assert.Equal(t, models.MessageTypeSystem, loaded.Inbox[0].Type)
}

func TestDelete(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Create("testuser")
	require.NoError(t, err)
	require.True(t, mgr.Exists())

	require.NoError(t, mgr.Delete())
	assert.False(t, mgr.Exists())

	// Deleting a missing checkpoint is not an error
	assert.NoError(t, mgr.Delete())
}
