package fetch

import (
	"context"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/livejournal"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
	"github.com/johnwbyrd/yalje/pkg/ratelimit"
	"github.com/johnwbyrd/yalje/pkg/retry"
)

// CommentSource fetches the raw comment export documents
type CommentSource interface {
	FetchCommentMeta(ctx context.Context, startID int) (string, error)
	FetchCommentBodies(ctx context.Context, startID int) (string, error)
}

// CommentResult is the outcome of a comment walk. Users holds the merged
// usermap keyed by id. Cursor and MaxID carry the pagination state so an
// interrupted run can resume.
type CommentResult struct {
	Comments []models.RawComment
	Users    map[int]string
	Cursor   int
	MaxID    int
	Complete bool
}

// CommentFetcher runs the two-phase comment walk: one metadata request for
// maxid and the initial usermap, then cursor-paginated body batches until the
// cursor reaches maxid.
type CommentFetcher struct {
	source   CommentSource
	session  SessionRefresher
	limiter  ratelimit.Limiter
	retryCfg *retry.Config
	logger   logger.Logger

	// OnBatch is called after every body batch for checkpointing
	OnBatch func(cursor int, comments []models.RawComment, users map[int]string)
}

// NewCommentFetcher creates a comment pipeline
func NewCommentFetcher(source CommentSource, session SessionRefresher, limiter ratelimit.Limiter, retryCfg *retry.Config, log logger.Logger) *CommentFetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &CommentFetcher{
		source:   source,
		session:  session,
		limiter:  limiter,
		retryCfg: retryCfg,
		logger:   log,
	}
}

// FetchAll fetches every comment on the account starting from cursor 0
func (f *CommentFetcher) FetchAll(ctx context.Context) (*CommentResult, error) {
	return f.FetchFrom(ctx, 0, 0)
}

// FetchFrom resumes a comment walk. A zero maxID forces a fresh metadata
// request; a non-zero one skips it, trusting checkpointed state. The maxid is
// a pagination bound only, never a record count.
func (f *CommentFetcher) FetchFrom(ctx context.Context, cursor, maxID int) (*CommentResult, error) {
	result := &CommentResult{
		Users:  make(map[int]string),
		Cursor: cursor,
		MaxID:  maxID,
	}

	if maxID == 0 {
		m, users, err := f.fetchMeta(ctx)
		if err != nil {
			return result, err
		}
		result.MaxID = m
		mergeUsers(result.Users, users)

		f.logger.InfoWithFields("comment metadata fetched", map[string]interface{}{
			"maxid": m,
			"users": len(users),
		})

		// No comments exist on the account
		if m == 0 {
			result.Complete = true
			return result, nil
		}
	}

	for result.Cursor < result.MaxID {
		if err := ctx.Err(); err != nil {
			f.logger.WarnWithFields("comment fetch cancelled", map[string]interface{}{
				"cursor": result.Cursor,
			})
			return result, err
		}

		// Batches start after the cursor, so the highest id already seen
		// is never refetched.
		batch, err := f.fetchBatch(ctx, result.Cursor+1)
		if err != nil {
			return result, err
		}

		if len(batch) == 0 {
			return result, errs.Newf(errs.ErrorTypePaginationStall,
				"empty comment batch at cursor %d before reaching maxid %d", result.Cursor, result.MaxID)
		}

		highest := result.Cursor
		for _, c := range batch {
			if c.ID > highest {
				highest = c.ID
			}
		}
		if highest <= result.Cursor {
			return result, errs.Newf(errs.ErrorTypePaginationStall,
				"comment cursor failed to advance past %d", result.Cursor)
		}

		result.Comments = append(result.Comments, batch...)
		result.Cursor = highest

		f.logger.DebugWithFields("comment batch fetched", map[string]interface{}{
			"batch":  len(batch),
			"cursor": result.Cursor,
			"maxid":  result.MaxID,
		})

		if f.OnBatch != nil {
			f.OnBatch(result.Cursor, batch, result.Users)
		}
	}

	result.Complete = true
	return result, nil
}

func (f *CommentFetcher) fetchMeta(ctx context.Context) (int, []models.User, error) {
	type meta struct {
		maxID int
		users []models.User
	}
	m, err := retry.DoWithResult(ctx, func() (meta, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return meta{}, err
			}
		}
		body, err := f.source.FetchCommentMeta(ctx, 0)
		if err != nil {
			if recovered := recoverSession(ctx, f.session, err, f.logger); recovered != nil {
				return meta{}, recovered
			}
			body, err = f.source.FetchCommentMeta(ctx, 0)
			if err != nil {
				return meta{}, err
			}
		}
		maxID, users, err := livejournal.ParseCommentMeta(body, f.logger)
		if err != nil {
			return meta{}, err
		}
		return meta{maxID: maxID, users: users}, nil
	}, f.retryCfg)
	if err != nil {
		return 0, nil, err
	}
	return m.maxID, m.users, nil
}

func (f *CommentFetcher) fetchBatch(ctx context.Context, startID int) ([]models.RawComment, error) {
	return retry.DoWithResult(ctx, func() ([]models.RawComment, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		body, err := f.source.FetchCommentBodies(ctx, startID)
		if err != nil {
			if recovered := recoverSession(ctx, f.session, err, f.logger); recovered != nil {
				return nil, recovered
			}
			body, err = f.source.FetchCommentBodies(ctx, startID)
			if err != nil {
				return nil, err
			}
		}
		return livejournal.ParseCommentBodies(body, f.logger)
	}, f.retryCfg)
}

// mergeUsers unions new user mappings into the running set, keyed by id.
// First mapping wins so the union is idempotent across batches.
func mergeUsers(into map[int]string, users []models.User) {
	for _, u := range users {
		if _, ok := into[u.ID]; !ok {
			into[u.ID] = u.Username
		}
	}
}
