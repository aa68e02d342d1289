package fetch

import (
	"context"

	"github.com/johnwbyrd/yalje/pkg/livejournal"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
	"github.com/johnwbyrd/yalje/pkg/ratelimit"
	"github.com/johnwbyrd/yalje/pkg/retry"
)

// InboxSource fetches the raw inbox folder pages
type InboxSource interface {
	FetchInboxPage(ctx context.Context, view string, page int) (string, error)
}

// InboxResult is the outcome of an inbox walk. Folder and NextPage carry the
// resumption point when the walk was interrupted.
type InboxResult struct {
	Messages []models.InboxMessage
	Folder   string
	NextPage int
	Complete bool
}

// InboxFetcher walks inbox folder views page by page. Pagination stops when
// the reported page total is reached or a page comes back empty: the last
// page count the server reports is not always consistent.
type InboxFetcher struct {
	source   InboxSource
	session  SessionRefresher
	limiter  ratelimit.Limiter
	retryCfg *retry.Config
	logger   logger.Logger

	// OnPage is called after every fetched page for checkpointing
	OnPage func(folder string, nextPage int, messages []models.InboxMessage)
}

// NewInboxFetcher creates an inbox pipeline
func NewInboxFetcher(source InboxSource, session SessionRefresher, limiter ratelimit.Limiter, retryCfg *retry.Config, log logger.Logger) *InboxFetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &InboxFetcher{
		source:   source,
		session:  session,
		limiter:  limiter,
		retryCfg: retryCfg,
		logger:   log,
	}
}

// FetchFolders walks each folder view in order and concatenates the results.
// Each message is tagged with the folder it came from.
func (f *InboxFetcher) FetchFolders(ctx context.Context, folders []string) (*InboxResult, error) {
	return f.FetchFoldersFrom(ctx, folders, "", 1)
}

// FetchFoldersFrom resumes an interrupted folder walk. Folders before
// resumeFolder were already completed and are skipped; resumeFolder itself
// starts at resumePage, and any folders after it start at page one. An
// unknown resumeFolder walks everything from the beginning.
func (f *InboxFetcher) FetchFoldersFrom(ctx context.Context, folders []string, resumeFolder string, resumePage int) (*InboxResult, error) {
	if len(folders) == 0 {
		folders = []string{"all"}
	}

	start := 0
	if resumeFolder != "" {
		for i, folder := range folders {
			if folder == resumeFolder {
				start = i
				break
			}
		}
	}

	combined := &InboxResult{}
	for i, folder := range folders[start:] {
		page := 1
		if i == 0 && folder == resumeFolder {
			page = resumePage
		}
		result, err := f.FetchFolder(ctx, folder, page)
		combined.Messages = append(combined.Messages, result.Messages...)
		combined.Folder = result.Folder
		combined.NextPage = result.NextPage
		if err != nil {
			return combined, err
		}
	}
	combined.Complete = true
	return combined, nil
}

// FetchFolder walks one folder view starting at the given page
func (f *InboxFetcher) FetchFolder(ctx context.Context, folder string, startPage int) (*InboxResult, error) {
	if startPage < 1 {
		startPage = 1
	}
	result := &InboxResult{Folder: folder, NextPage: startPage}

	for page := startPage; ; page++ {
		if err := ctx.Err(); err != nil {
			f.logger.WarnWithFields("inbox fetch cancelled", map[string]interface{}{
				"folder": folder,
				"page":   page,
			})
			result.NextPage = page
			return result, err
		}

		messages, hasNext, err := f.fetchPage(ctx, folder, page)
		if err != nil {
			result.NextPage = page
			return result, err
		}

		f.logger.DebugWithFields("inbox page fetched", map[string]interface{}{
			"folder":   folder,
			"page":     page,
			"messages": len(messages),
			"has_next": hasNext,
		})

		for i := range messages {
			messages[i].Folder = folder
		}
		result.Messages = append(result.Messages, messages...)
		result.NextPage = page + 1

		if f.OnPage != nil {
			f.OnPage(folder, result.NextPage, messages)
		}

		// An empty page means the advertised total overshot
		if !hasNext || len(messages) == 0 {
			break
		}
	}

	result.Complete = true
	return result, nil
}

func (f *InboxFetcher) fetchPage(ctx context.Context, folder string, page int) ([]models.InboxMessage, bool, error) {
	type inboxPage struct {
		messages []models.InboxMessage
		hasNext  bool
	}
	p, err := retry.DoWithResult(ctx, func() (inboxPage, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return inboxPage{}, err
			}
		}
		body, err := f.source.FetchInboxPage(ctx, folder, page)
		if err != nil {
			if recovered := recoverSession(ctx, f.session, err, f.logger); recovered != nil {
				return inboxPage{}, recovered
			}
			body, err = f.source.FetchInboxPage(ctx, folder, page)
			if err != nil {
				return inboxPage{}, err
			}
		}
		messages, hasNext, err := livejournal.ParseInboxPage(body, f.logger)
		if err != nil {
			return inboxPage{}, err
		}
		return inboxPage{messages: messages, hasNext: hasNext}, nil
	}, f.retryCfg)
	if err != nil {
		return nil, false, err
	}
	return p.messages, p.hasNext, nil
}
