// Package fetch implements the three source pipelines: date-bucketed posts,
// cursor-paginated comments and page-paginated inbox messages. Each pipeline
// is sequential internally; the archiver runs the three concurrently.
package fetch

import (
	"context"
	"fmt"
	"time"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/livejournal"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
	"github.com/johnwbyrd/yalje/pkg/ratelimit"
	"github.com/johnwbyrd/yalje/pkg/retry"
)

// SessionRefresher re-establishes an expired session. Exactly one refresh
// runs at a time no matter how many pipelines hit expiry together.
type SessionRefresher interface {
	Refresh(ctx context.Context) error
	Invalidate()
}

// PostSource fetches the raw month export documents
type PostSource interface {
	FetchMonth(ctx context.Context, year, month int) (string, error)
}

// Month identifies one calendar month bucket
type Month struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// Next returns the following calendar month
func (m Month) Next() Month {
	if m.Month == 12 {
		return Month{Year: m.Year + 1, Month: 1}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// After reports whether m is strictly later than other
func (m Month) After(other Month) bool {
	if m.Year != other.Year {
		return m.Year > other.Year
	}
	return m.Month > other.Month
}

// CurrentMonth returns the present calendar month
func CurrentMonth() Month {
	now := time.Now()
	return Month{Year: now.Year(), Month: int(now.Month())}
}

// PostResult is the outcome of a month-range walk. FailedMonths lists the
// buckets that exhausted their retries; the caller decides whether a partial
// archive is acceptable. NextMonth is where a resumed run should pick up.
type PostResult struct {
	Posts        []models.RawPost
	FailedMonths []Month
	NextMonth    Month
	Complete     bool
}

// PostFetcher walks an inclusive month range chronologically, one request
// per month.
type PostFetcher struct {
	source   PostSource
	session  SessionRefresher
	limiter  ratelimit.Limiter
	retryCfg *retry.Config
	logger   logger.Logger

	// OnMonth is called after every successfully fetched month so the
	// caller can checkpoint partial progress.
	OnMonth func(next Month, posts []models.RawPost)
}

// NewPostFetcher creates a post pipeline
func NewPostFetcher(source PostSource, session SessionRefresher, limiter ratelimit.Limiter, retryCfg *retry.Config, log logger.Logger) *PostFetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &PostFetcher{
		source:   source,
		session:  session,
		limiter:  limiter,
		retryCfg: retryCfg,
		logger:   log,
	}
}

// FetchRange fetches every month in [start, end]. A month that returns no
// posts is valid; a month that exhausts its retries is recorded as failed and
// the walk continues. On cancellation the partial result carries the month
// pointer for resumption.
func (f *PostFetcher) FetchRange(ctx context.Context, start, end Month) (*PostResult, error) {
	result := &PostResult{NextMonth: start}

	for month := start; !month.After(end); month = month.Next() {
		if err := ctx.Err(); err != nil {
			f.logger.WarnWithFields("post fetch cancelled", map[string]interface{}{
				"resume_month": month.String(),
			})
			result.NextMonth = month
			return result, err
		}

		posts, err := f.fetchMonth(ctx, month)
		if err != nil {
			if ctx.Err() != nil {
				result.NextMonth = month
				return result, ctx.Err()
			}
			f.logger.ErrorWithFields("month failed after retries", map[string]interface{}{
				"month": month.String(),
				"error": err.Error(),
			})
			result.FailedMonths = append(result.FailedMonths, month)
		} else {
			f.logger.InfoWithFields("fetched month", map[string]interface{}{
				"month": month.String(),
				"posts": len(posts),
			})
			result.Posts = append(result.Posts, posts...)
		}

		result.NextMonth = month.Next()
		if f.OnMonth != nil {
			f.OnMonth(result.NextMonth, posts)
		}
	}

	result.Complete = true
	return result, nil
}

func (f *PostFetcher) fetchMonth(ctx context.Context, month Month) ([]models.RawPost, error) {
	return retry.DoWithResult(ctx, func() ([]models.RawPost, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, err := f.source.FetchMonth(ctx, month.Year, month.Month)
		if err != nil {
			if recovered := f.recoverSession(ctx, err); recovered != nil {
				return nil, recovered
			}
			body, err = f.source.FetchMonth(ctx, month.Year, month.Month)
			if err != nil {
				return nil, err
			}
		}

		return livejournal.ParsePosts(body)
	}, f.retryCfg)
}

// recoverSession attempts a guarded re-login when err signals session
// expiry. It returns nil when the caller should retry the request, or the
// original (or refresh) error when it should not.
func (f *PostFetcher) recoverSession(ctx context.Context, err error) error {
	return recoverSession(ctx, f.session, err, f.logger)
}

func recoverSession(ctx context.Context, session SessionRefresher, err error, log logger.Logger) error {
	if session == nil || !errs.IsType(err, errs.ErrorTypeSessionExpired) {
		return err
	}
	log.Warn("session expired mid-run, refreshing")
	session.Invalidate()
	if refreshErr := session.Refresh(ctx); refreshErr != nil {
		return refreshErr
	}
	return nil
}
