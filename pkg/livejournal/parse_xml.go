package livejournal

import (
	"encoding/xml"
	"strconv"
	"strings"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
)

// postsDocument mirrors the export_do.bml response
type postsDocument struct {
	XMLName xml.Name    `xml:"livejournal"`
	Entries []postEntry `xml:"entry"`
}

type postEntry struct {
	ItemID       *int    `xml:"itemid"`
	EventTime    string  `xml:"eventtime"`
	LogTime      string  `xml:"logtime"`
	Subject      *string `xml:"subject"`
	Event        string  `xml:"event"`
	Security     *string `xml:"security"`
	AllowMask    int     `xml:"allowmask"`
	CurrentMood  *string `xml:"current_mood"`
	CurrentMusic *string `xml:"current_music"`
}

// metaDocument mirrors the comment_meta response. Usermap elements sit
// directly under the document root.
type metaDocument struct {
	XMLName  xml.Name       `xml:"livejournal"`
	MaxID    *string        `xml:"maxid"`
	Usermaps []usermapEntry `xml:"usermap"`
}

type usermapEntry struct {
	ID   *string `xml:"id,attr"`
	User *string `xml:"user,attr"`
}

// bodyDocument mirrors the comment_body response
type bodyDocument struct {
	XMLName  xml.Name       `xml:"livejournal"`
	Comments []commentEntry `xml:"comments>comment"`
}

type commentEntry struct {
	ID       *string `xml:"id,attr"`
	JItemID  *string `xml:"jitemid,attr"`
	PosterID *string `xml:"posterid,attr"`
	ParentID *string `xml:"parentid,attr"`
	State    *string `xml:"state,attr"`
	Date     string  `xml:"date"`
	Subject  *string `xml:"subject"`
	Body     *string `xml:"body"`
}

// ParsePosts parses an export_do.bml month response into raw post records.
// A document with no entries is a valid empty month. Entries missing one of
// the required fields fail the whole document: the month would otherwise be
// silently incomplete.
func ParsePosts(body string) ([]models.RawPost, error) {
	var doc postsDocument
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, "failed to parse post export XML", err)
	}

	posts := make([]models.RawPost, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		if entry.ItemID == nil {
			return nil, errs.New(errs.ErrorTypeParsing, "post entry missing required field: itemid")
		}
		if entry.Security == nil {
			return nil, errs.New(errs.ErrorTypeParsing, "post entry missing required field: security")
		}
		posts = append(posts, models.RawPost{
			ItemID:       *entry.ItemID,
			EventTime:    entry.EventTime,
			LogTime:      entry.LogTime,
			Subject:      emptyToNil(entry.Subject),
			Event:        entry.Event,
			Security:     *entry.Security,
			AllowMask:    entry.AllowMask,
			CurrentMood:  emptyToNil(entry.CurrentMood),
			CurrentMusic: emptyToNil(entry.CurrentMusic),
		})
	}
	return posts, nil
}

// ParseCommentMeta parses a comment_meta response into the comment maxid and
// the usermap. Malformed usermap entries are skipped with a warning; a
// missing or non-numeric maxid fails the document because pagination cannot
// proceed without it.
func ParseCommentMeta(body string, log logger.Logger) (int, []models.User, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var doc metaDocument
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return 0, nil, errs.Wrap(errs.ErrorTypeParsing, "failed to parse comment metadata XML", err)
	}

	if doc.MaxID == nil {
		return 0, nil, errs.New(errs.ErrorTypeParsing, "comment metadata missing required field: maxid")
	}
	maxID, err := strconv.Atoi(strings.TrimSpace(*doc.MaxID))
	if err != nil {
		return 0, nil, errs.Newf(errs.ErrorTypeParsing, "invalid maxid value: %q", *doc.MaxID)
	}

	users := make([]models.User, 0, len(doc.Usermaps))
	for _, entry := range doc.Usermaps {
		if entry.ID == nil || entry.User == nil {
			log.Warn("skipping usermap entry with missing attributes")
			continue
		}
		id, err := strconv.Atoi(*entry.ID)
		if err != nil {
			log.WarnWithFields("skipping usermap entry with non-numeric id", map[string]interface{}{
				"id":   *entry.ID,
				"user": *entry.User,
			})
			continue
		}
		users = append(users, models.User{ID: id, Username: *entry.User})
	}
	return maxID, users, nil
}

// ParseCommentBodies parses a comment_body batch into raw comment records.
// Records missing an id or jitemid are skipped with a warning rather than
// failing the batch. Zero-valued posterid and parentid attributes mean
// anonymous and top-level respectively and come back as nil. Single-letter
// state markers are normalized (D becomes deleted).
func ParseCommentBodies(body string, log logger.Logger) ([]models.RawComment, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var doc bodyDocument
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, "failed to parse comment body XML", err)
	}

	comments := make([]models.RawComment, 0, len(doc.Comments))
	for _, entry := range doc.Comments {
		id, ok := attrInt(entry.ID)
		if !ok {
			log.Warn("skipping comment with missing or invalid id")
			continue
		}
		jitemid, ok := attrInt(entry.JItemID)
		if !ok {
			log.WarnWithFields("skipping comment with missing or invalid jitemid", map[string]interface{}{
				"id": id,
			})
			continue
		}

		comments = append(comments, models.RawComment{
			ID:       id,
			JItemID:  jitemid,
			PosterID: attrOptionalInt(entry.PosterID),
			ParentID: attrOptionalInt(entry.ParentID),
			State:    normalizeCommentState(entry.State),
			Date:     entry.Date,
			Subject:  emptyToNil(entry.Subject),
			Body:     entry.Body,
		})
	}
	return comments, nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func attrInt(s *string) (int, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.Atoi(*s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// attrOptionalInt treats a missing, malformed or zero attribute as absent
func attrOptionalInt(s *string) *int {
	v, ok := attrInt(s)
	if !ok || v == 0 {
		return nil
	}
	return &v
}

func normalizeCommentState(s *string) *string {
	if s == nil {
		return nil
	}
	var state string
	switch strings.ToUpper(strings.TrimSpace(*s)) {
	case "D":
		state = models.CommentStateDeleted
	case "S":
		state = "screened"
	case "F":
		state = "frozen"
	case "", "A":
		return nil
	default:
		state = strings.ToLower(strings.TrimSpace(*s))
	}
	return &state
}
