// Package archiver orchestrates a full export run: authentication, the three
// concurrent fetch pipelines, linking, assembly and serialization, with
// checkpoint/resume around the whole thing.
package archiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnwbyrd/yalje/pkg/checkpoint"
	"github.com/johnwbyrd/yalje/pkg/config"
	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/export"
	"github.com/johnwbyrd/yalje/pkg/fetch"
	"github.com/johnwbyrd/yalje/pkg/linker"
	"github.com/johnwbyrd/yalje/pkg/livejournal"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
	"github.com/johnwbyrd/yalje/pkg/ratelimit"
	"github.com/johnwbyrd/yalje/pkg/retry"
)

// Version is stamped into export metadata
const Version = "1.0.0"

// Report summarizes a completed (or partially completed) run
type Report struct {
	OutputPath   string
	PostCount    int
	CommentCount int
	InboxCount   int
	FailedMonths []fetch.Month
	Warnings     []string
	Resumable    bool
}

// Archiver drives one export run for one account
type Archiver struct {
	cfg         *config.Config
	client      *livejournal.Client
	session     *livejournal.SessionManager
	checkpoints *checkpoint.Manager
	logger      logger.Logger

	// shared request budget across all pipelines
	bucket *ratelimit.TokenBucket

	mu           sync.Mutex
	cp           *checkpoint.Checkpoint
	failedMonths []fetch.Month
}

// New creates an archiver from configuration
func New(cfg *config.Config, log logger.Logger) (*Archiver, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	client := livejournal.NewClient(cfg.LiveJournal.BaseURL, cfg.HTTP.Timeout, cfg.LiveJournal.UserAgent, log)
	session := livejournal.NewSessionManager(client, log)

	checkpoints, err := checkpoint.NewManager(cfg.LiveJournal.Username)
	if err != nil {
		return nil, err
	}

	return NewWithComponents(cfg, client, session, checkpoints, log), nil
}

// Session exposes the session manager so a caller can restore saved cookies
// before Run.
func (a *Archiver) Session() *livejournal.SessionManager {
	return a.session
}

// NewWithComponents wires an archiver from pre-built collaborators
func NewWithComponents(cfg *config.Config, client *livejournal.Client, session *livejournal.SessionManager, checkpoints *checkpoint.Manager, log logger.Logger) *Archiver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Archiver{
		cfg:         cfg,
		client:      client,
		session:     session,
		checkpoints: checkpoints,
		logger:      log,
		bucket:      ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute),
	}
}

// Run executes the export. On cancellation or a pipeline failure the
// checkpoint holds every pipeline's resumption cursor and accumulated
// records; the next Run picks up from there. On success the checkpoint is
// deleted and the archive written to the configured output path.
func (a *Archiver) Run(ctx context.Context) (*Report, error) {
	report := &Report{OutputPath: a.cfg.Export.OutputPath}

	// A session restored from saved cookies skips the handshake. The
	// credentials are stored either way so an expiring session can refresh.
	if a.session.State() == livejournal.StateAuthenticated {
		a.session.SetCredentials(a.cfg.LiveJournal.Username, a.cfg.LiveJournal.Password)
	} else {
		if err := a.session.Login(ctx, a.cfg.LiveJournal.Username, a.cfg.LiveJournal.Password); err != nil {
			return report, err
		}
	}

	if err := a.prepareCheckpoint(ctx); err != nil {
		return report, err
	}

	runErr := a.fetchAll(ctx)

	a.mu.Lock()
	cp := a.cp
	a.mu.Unlock()

	if runErr != nil {
		if saveErr := a.checkpoints.Save(cp); saveErr != nil {
			a.logger.WithError(saveErr).Error("failed to save checkpoint after interrupted run")
		}
		report.Resumable = true
		a.logger.WithError(runErr).Warn("run interrupted, checkpoint saved")
		return report, runErr
	}

	linked, inbox, warnings, err := a.link(cp)
	report.Warnings = warnings
	if err != nil {
		return report, err
	}

	bundle, err := export.NewAssembler(a.logger).Assemble(a.cfg.LiveJournal.Username, Version, linked, inbox)
	if err != nil {
		return report, err
	}

	if err := export.WriteFile(a.cfg.Export.OutputPath, bundle); err != nil {
		return report, err
	}

	if err := a.checkpoints.Delete(); err != nil {
		a.logger.WithError(err).Warn("failed to delete checkpoint after successful run")
	}

	report.PostCount = bundle.Metadata.PostCount
	report.CommentCount = bundle.Metadata.CommentCount
	report.InboxCount = bundle.Metadata.InboxCount
	report.FailedMonths = a.failedMonths

	a.logger.InfoWithFields("export complete", map[string]interface{}{
		"output":   a.cfg.Export.OutputPath,
		"posts":    report.PostCount,
		"comments": report.CommentCount,
		"inbox":    report.InboxCount,
	})

	return report, nil
}

// prepareCheckpoint loads an interrupted run's state or starts fresh. The
// month range comes from explicit configuration, falling back to the profile
// page's creation date through the current month.
func (a *Archiver) prepareCheckpoint(ctx context.Context) error {
	if a.cfg.Export.ForceRestart {
		if err := a.checkpoints.Delete(); err != nil {
			return err
		}
	}

	cp, err := a.checkpoints.Load()
	if err != nil {
		return err
	}
	if cp != nil && cp.Account == a.cfg.LiveJournal.Username {
		a.logger.InfoWithFields("resuming interrupted run", map[string]interface{}{
			"account": cp.Account,
		})
		a.mu.Lock()
		a.cp = cp
		a.mu.Unlock()
		return nil
	}

	cp, err = a.checkpoints.Create(a.cfg.LiveJournal.Username)
	if err != nil {
		return err
	}

	start := fetch.Month{Year: a.cfg.Export.StartYear, Month: a.cfg.Export.StartMonth}
	end := fetch.Month{Year: a.cfg.Export.EndYear, Month: a.cfg.Export.EndMonth}

	if a.cfg.Export.Posts && (start.Year == 0 || end.Year == 0) {
		profile, err := a.fetchProfile(ctx)
		if err != nil {
			return err
		}
		if start.Year == 0 {
			start = fetch.Month{Year: profile.CreatedYear, Month: profile.CreatedMonth}
		}
		if end.Year == 0 {
			end = fetch.CurrentMonth()
		}
		a.logger.InfoWithFields("month range derived from profile", map[string]interface{}{
			"start":      start.String(),
			"end":        end.String(),
			"post_count": profile.PostCount,
		})
	}

	cp.NextYear, cp.NextMonth = start.Year, start.Month
	cp.EndYear, cp.EndMonth = end.Year, end.Month
	cp.PostsDone = !a.cfg.Export.Posts
	cp.CommentsDone = !a.cfg.Export.Comments
	cp.InboxDone = !a.cfg.Export.Inbox

	a.mu.Lock()
	a.cp = cp
	a.mu.Unlock()
	return a.checkpoints.Save(cp)
}

func (a *Archiver) fetchProfile(ctx context.Context) (*livejournal.ProfileData, error) {
	body, err := a.client.FetchProfile(ctx, a.cfg.LiveJournal.Username)
	if err != nil {
		return nil, err
	}
	return livejournal.ParseProfile(body, a.logger)
}

func (a *Archiver) retryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts: a.cfg.RateLimit.MaxRetries,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    a.cfg.RateLimit.RetryBaseDelay,
			MaxDelay:     a.cfg.RateLimit.RetryMaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		RetryIf: retry.DefaultRetryIf,
		Logger:  a.logger,
	}
}

// limiter builds a per-pipeline pacer: the pipeline's own inter-request
// delay chained with the global request-per-minute budget.
func (a *Archiver) limiter() ratelimit.Limiter {
	return ratelimit.NewChain(
		ratelimit.NewInterval(a.cfg.RateLimit.RequestDelay),
		a.bucket,
	)
}

// fetchAll runs the enabled pipelines concurrently. Pagination inside each
// pipeline stays sequential; only the pipelines themselves overlap.
func (a *Archiver) fetchAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if !a.cp.PostsDone {
		g.Go(func() error { return a.runPosts(ctx) })
	}
	if !a.cp.CommentsDone {
		g.Go(func() error { return a.runComments(ctx) })
	}
	if !a.cp.InboxDone {
		g.Go(func() error { return a.runInbox(ctx) })
	}

	return g.Wait()
}

func (a *Archiver) runPosts(ctx context.Context) error {
	a.mu.Lock()
	start := fetch.Month{Year: a.cp.NextYear, Month: a.cp.NextMonth}
	end := fetch.Month{Year: a.cp.EndYear, Month: a.cp.EndMonth}
	a.mu.Unlock()

	fetcher := fetch.NewPostFetcher(a.client, a.session, a.limiter(), a.retryConfig(), a.logger)
	fetcher.OnMonth = func(next fetch.Month, posts []models.RawPost) {
		a.mu.Lock()
		a.cp.NextYear, a.cp.NextMonth = next.Year, next.Month
		a.cp.Posts = append(a.cp.Posts, posts...)
		a.saveLocked()
		a.mu.Unlock()
	}

	result, err := fetcher.FetchRange(ctx, start, end)
	a.mu.Lock()
	a.failedMonths = result.FailedMonths
	a.cp.PostsDone = result.Complete
	a.mu.Unlock()
	return err
}

func (a *Archiver) runComments(ctx context.Context) error {
	a.mu.Lock()
	cursor, maxID := a.cp.CommentCursor, a.cp.CommentMaxID
	a.mu.Unlock()

	fetcher := fetch.NewCommentFetcher(a.client, a.session, a.limiter(), a.retryConfig(), a.logger)
	fetcher.OnBatch = func(cursor int, comments []models.RawComment, users map[int]string) {
		a.mu.Lock()
		a.cp.CommentCursor = cursor
		a.cp.Comments = append(a.cp.Comments, comments...)
		for id, username := range users {
			if _, ok := a.cp.Users[id]; !ok {
				a.cp.Users[id] = username
			}
		}
		a.saveLocked()
		a.mu.Unlock()
	}

	result, err := fetcher.FetchFrom(ctx, cursor, maxID)
	a.mu.Lock()
	a.cp.CommentMaxID = result.MaxID
	a.cp.CommentCursor = result.Cursor
	for id, username := range result.Users {
		if _, ok := a.cp.Users[id]; !ok {
			a.cp.Users[id] = username
		}
	}
	a.cp.CommentsDone = result.Complete
	a.mu.Unlock()
	return err
}

func (a *Archiver) runInbox(ctx context.Context) error {
	a.mu.Lock()
	folders := a.cfg.Export.InboxFolders
	resumeFolder := a.cp.InboxFolder
	resumePage := a.cp.InboxPage
	seen := make(map[string]bool, len(a.cp.Inbox))
	for _, msg := range a.cp.Inbox {
		seen[fmt.Sprintf("%s/%d", msg.Folder, msg.QID)] = true
	}
	a.mu.Unlock()

	fetcher := fetch.NewInboxFetcher(a.client, a.session, a.limiter(), a.retryConfig(), a.logger)
	fetcher.OnPage = func(folder string, nextPage int, messages []models.InboxMessage) {
		a.mu.Lock()
		a.cp.InboxFolder = folder
		a.cp.InboxPage = nextPage
		// A resumed page can overlap with what the previous run stored
		for _, msg := range messages {
			key := fmt.Sprintf("%s/%d", folder, msg.QID)
			if seen[key] {
				continue
			}
			seen[key] = true
			a.cp.Inbox = append(a.cp.Inbox, msg)
		}
		a.saveLocked()
		a.mu.Unlock()
	}

	result, err := fetcher.FetchFoldersFrom(ctx, folders, resumeFolder, resumePage)
	a.mu.Lock()
	a.cp.InboxDone = result.Complete
	a.mu.Unlock()
	return err
}

// saveLocked persists the checkpoint; the caller holds a.mu
func (a *Archiver) saveLocked() {
	if err := a.checkpoints.Save(a.cp); err != nil {
		a.logger.WithError(err).Warn("checkpoint save failed")
	}
}

// link runs the linker over the accumulated raw records. A link integrity
// error is demoted to a warning: the forest is best-effort by then.
func (a *Archiver) link(cp *checkpoint.Checkpoint) (*linker.Result, []models.InboxMessage, []string, error) {
	l := linker.New(a.logger)
	linked, err := l.Link(cp.Posts, cp.Comments, cp.Users)
	if err != nil {
		if !errs.IsType(err, errs.ErrorTypeLinkIntegrity) {
			return nil, nil, nil, err
		}
		a.logger.WithError(err).Warn("link integrity issues in best-effort forest")
		linked.Warnings = append(linked.Warnings, err.Error())
	}
	return linked, cp.Inbox, linked.Warnings, nil
}
