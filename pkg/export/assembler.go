// Package export assembles the canonical aggregate and serializes it to
// YAML, JSON or XML.
package export

import (
	"sort"
	"time"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/linker"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
)

// Assembler merges linked entities into an ExportBundle with deterministic
// ordering and counts derived from the actual collection sizes.
type Assembler struct {
	logger logger.Logger
}

// NewAssembler creates an Assembler
func NewAssembler(log logger.Logger) *Assembler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Assembler{logger: log}
}

// Assemble builds the final bundle. Collections are sorted (posts by itemid,
// comments by id, inbox by qid, users by id) so repeated exports of the same
// account diff cleanly. Counts are computed from the collections themselves
// and validated before the bundle is returned; a mismatch is a logic defect,
// not an environmental condition, and is fatal.
func (a *Assembler) Assemble(account, toolVersion string, linked *linker.Result, inbox []models.InboxMessage) (*models.ExportBundle, error) {
	if linked == nil {
		linked = &linker.Result{}
	}

	bundle := &models.ExportBundle{
		Users:    append([]models.User(nil), linked.Users...),
		Posts:    append([]models.Post(nil), linked.Posts...),
		Comments: append([]models.Comment(nil), linked.Comments...),
		Inbox:    append([]models.InboxMessage(nil), inbox...),
	}

	sort.Slice(bundle.Users, func(i, j int) bool { return bundle.Users[i].ID < bundle.Users[j].ID })
	sort.Slice(bundle.Posts, func(i, j int) bool { return bundle.Posts[i].ItemID < bundle.Posts[j].ItemID })
	sort.Slice(bundle.Comments, func(i, j int) bool { return bundle.Comments[i].ID < bundle.Comments[j].ID })
	sort.Slice(bundle.Inbox, func(i, j int) bool { return bundle.Inbox[i].QID < bundle.Inbox[j].QID })

	bundle.Metadata = models.ExportMetadata{
		ExportDate:   time.Now().UTC().Format(time.RFC3339),
		Account:      account,
		ToolVersion:  toolVersion,
		PostCount:    len(bundle.Posts),
		CommentCount: len(bundle.Comments),
		InboxCount:   len(bundle.Inbox),
	}

	if err := Validate(bundle); err != nil {
		return nil, err
	}

	a.logger.InfoWithFields("export assembled", map[string]interface{}{
		"account":  account,
		"posts":    bundle.Metadata.PostCount,
		"comments": bundle.Metadata.CommentCount,
		"inbox":    bundle.Metadata.InboxCount,
	})

	return bundle, nil
}

// Validate checks the count invariant of an assembled bundle
func Validate(bundle *models.ExportBundle) error {
	if bundle.Metadata.PostCount != len(bundle.Posts) {
		return errs.Newf(errs.ErrorTypeExportAssembly,
			"post count %d does not match collection size %d", bundle.Metadata.PostCount, len(bundle.Posts))
	}
	if bundle.Metadata.CommentCount != len(bundle.Comments) {
		return errs.Newf(errs.ErrorTypeExportAssembly,
			"comment count %d does not match collection size %d", bundle.Metadata.CommentCount, len(bundle.Comments))
	}
	if bundle.Metadata.InboxCount != len(bundle.Inbox) {
		return errs.Newf(errs.ErrorTypeExportAssembly,
			"inbox count %d does not match collection size %d", bundle.Metadata.InboxCount, len(bundle.Inbox))
	}
	return nil
}
