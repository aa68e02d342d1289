// Package linker cross-links the three raw record sets into the canonical
// model: it groups comments under posts, resolves poster usernames and builds
// per-post comment forests with orphan and cycle handling.
package linker

import (
	"fmt"
	"sort"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
)

// Result is the linked canonical model. Comments form an arena indexed by
// id: parent/child edges live in each comment's Children list, roots are the
// comments with a nil ParentID plus promoted orphans. Warnings records the
// integrity issues that were repaired rather than fatal.
type Result struct {
	Posts    []models.Post
	Comments []models.Comment
	Users    []models.User
	Warnings []string
}

// Linker builds the canonical model from raw fetch output
type Linker struct {
	logger logger.Logger
}

// New creates a Linker
func New(log logger.Logger) *Linker {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Linker{logger: log}
}

// Link resolves cross-references between the raw record sets. Comments whose
// jitemid matches no fetched post are flagged unlinked but kept: the owning
// post may simply have failed to fetch. A detected reply cycle is broken by
// detaching the offending edge, and Link returns a link integrity error
// alongside the best-effort result; callers treat it as a warning.
func (l *Linker) Link(rawPosts []models.RawPost, rawComments []models.RawComment, users map[int]string) (*Result, error) {
	result := &Result{}

	knownJItemIDs := make(map[int]bool, len(rawPosts))
	for _, raw := range rawPosts {
		post := models.NewPost(raw)
		knownJItemIDs[post.JItemID] = true
		result.Posts = append(result.Posts, post)
	}

	arena := make(map[int]*models.Comment, len(rawComments))
	order := make([]int, 0, len(rawComments))
	for _, raw := range rawComments {
		if _, dup := arena[raw.ID]; dup {
			l.warnf(result, "duplicate comment id %d, keeping first occurrence", raw.ID)
			continue
		}
		comment := &models.Comment{
			ID:       raw.ID,
			JItemID:  raw.JItemID,
			PosterID: raw.PosterID,
			ParentID: raw.ParentID,
			State:    raw.State,
			Date:     raw.Date,
			Subject:  raw.Subject,
			Body:     raw.Body,
		}
		if raw.PosterID != nil {
			if username, ok := users[*raw.PosterID]; ok {
				comment.PosterUsername = &username
			}
		}
		if !knownJItemIDs[raw.JItemID] {
			comment.Unlinked = true
			l.warnf(result, "comment %d references unknown jitemid %d, kept as unlinked", raw.ID, raw.JItemID)
		}
		arena[raw.ID] = comment
		order = append(order, raw.ID)
	}

	l.buildForest(arena, order, result)

	cycles := l.breakCycles(arena, order, result)

	for _, id := range order {
		result.Comments = append(result.Comments, *arena[id])
	}

	result.Users = make([]models.User, 0, len(users))
	for id, username := range users {
		result.Users = append(result.Users, models.User{ID: id, Username: username})
	}
	sort.Slice(result.Users, func(i, j int) bool { return result.Users[i].ID < result.Users[j].ID })

	if cycles > 0 {
		return result, errs.Newf(errs.ErrorTypeLinkIntegrity,
			"broke %d reply cycle(s) during forest construction", cycles)
	}
	return result, nil
}

// buildForest attaches each comment with a parentid to its parent. A
// parentid that references an id outside the arena is an orphan: the comment
// is promoted to top-level and the dangling reference recorded, never
// silently dropped.
func (l *Linker) buildForest(arena map[int]*models.Comment, order []int, result *Result) {
	for _, id := range order {
		comment := arena[id]
		if comment.ParentID == nil {
			continue
		}
		parent, ok := arena[*comment.ParentID]
		if !ok {
			l.warnf(result, "comment %d references missing parent %d, promoted to top-level", id, *comment.ParentID)
			comment.ParentID = nil
			continue
		}
		if parent.ID == comment.ID {
			l.warnf(result, "comment %d is its own parent, promoted to top-level", id)
			comment.ParentID = nil
			continue
		}
		parent.Children = append(parent.Children, id)
	}
}

// breakCycles walks the forest from every root and detaches any edge that
// would revisit an id already on the current path. Comments unreachable from
// any root after the walk belong to parent cycles with no entry point; the
// first such id is detached from its parent and promoted to a root.
func (l *Linker) breakCycles(arena map[int]*models.Comment, order []int, result *Result) int {
	visited := make(map[int]bool, len(arena))
	cycles := 0

	var walk func(id int, path map[int]bool)
	walk = func(id int, path map[int]bool) {
		visited[id] = true
		path[id] = true
		comment := arena[id]

		kept := comment.Children[:0]
		for _, childID := range comment.Children {
			if path[childID] {
				cycles++
				l.warnf(result, "cycle detected at comment %d, detaching edge %d -> %d", childID, id, childID)
				child := arena[childID]
				child.ParentID = nil
				continue
			}
			kept = append(kept, childID)
			walk(childID, path)
		}
		comment.Children = kept
		delete(path, id)
	}

	for _, id := range order {
		if arena[id].ParentID == nil && !visited[id] {
			walk(id, map[int]bool{})
		}
	}

	// Anything still unvisited sits on or below a cycle with no root.
	// Detach the first unvisited id from its parent and walk from there.
	for {
		entry := -1
		for _, id := range order {
			if !visited[id] {
				entry = id
				break
			}
		}
		if entry == -1 {
			break
		}

		cycles++
		comment := arena[entry]
		if comment.ParentID != nil {
			if parent, ok := arena[*comment.ParentID]; ok {
				parent.Children = removeID(parent.Children, entry)
			}
			l.warnf(result, "rootless cycle detected, detaching comment %d from parent %d", entry, *comment.ParentID)
			comment.ParentID = nil
		}
		walk(entry, map[int]bool{})
	}

	return cycles
}

func removeID(ids []int, id int) []int {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}

func (l *Linker) warnf(result *Result, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Warn(msg)
	result.Warnings = append(result.Warnings, msg)
}
