package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/models"
)

func intp(v int) *int { return &v }

func strp(s string) *string { return &s }

func rawPost(itemID int) models.RawPost {
	return models.RawPost{
		ItemID:    itemID,
		EventTime: "2023-01-01 00:00:00",
		Event:     "body",
		Security:  "public",
	}
}

func rawComment(id, jitemid int, parentID *int) models.RawComment {
	return models.RawComment{
		ID:       id,
		JItemID:  jitemid,
		ParentID: parentID,
		Date:     "2023-01-01T00:00:00Z",
		Body:     strp("text"),
	}
}

func commentByID(t *testing.T, result *Result, id int) models.Comment {
	t.Helper()
	for _, c := range result.Comments {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("comment %d not found", id)
	return models.Comment{}
}

func TestLinkBuildsThreadedForest(t *testing.T) {
	posts := []models.RawPost{rawPost(456 << 8)}
	comments := []models.RawComment{
		rawComment(100, 456, nil),
		rawComment(101, 456, intp(100)),
		rawComment(102, 456, intp(101)),
	}

	l := New(nil)
	result, err := l.Link(posts, comments, nil)
	require.NoError(t, err)

	require.Len(t, result.Posts, 1)
	assert.Equal(t, 456, result.Posts[0].JItemID)

	root := commentByID(t, result, 100)
	assert.Nil(t, root.ParentID)
	assert.Equal(t, []int{101}, root.Children)

	mid := commentByID(t, result, 101)
	assert.Equal(t, []int{102}, mid.Children)

	leaf := commentByID(t, result, 102)
	assert.Empty(t, leaf.Children)
	require.NotNil(t, leaf.ParentID)
	assert.Equal(t, 101, *leaf.ParentID)
}

func TestLinkResolvesUsernames(t *testing.T) {
	posts := []models.RawPost{rawPost(456 << 8)}
	comments := []models.RawComment{
		{ID: 100, JItemID: 456, PosterID: intp(123)},
		{ID: 101, JItemID: 456, PosterID: intp(999)}, // not in usermap
		{ID: 102, JItemID: 456},                      // anonymous
	}
	users := map[int]string{123: "friend1"}

	l := New(nil)
	result, err := l.Link(posts, comments, users)
	require.NoError(t, err)

	resolved := commentByID(t, result, 100)
	require.NotNil(t, resolved.PosterUsername)
	assert.Equal(t, "friend1", *resolved.PosterUsername)

	// Unresolved and anonymous posters both come back nil; the source
	// data cannot tell them apart.
	assert.Nil(t, commentByID(t, result, 101).PosterUsername)
	assert.Nil(t, commentByID(t, result, 102).PosterUsername)

	require.Len(t, result.Users, 1)
	assert.Equal(t, models.User{ID: 123, Username: "friend1"}, result.Users[0])
}

func TestLinkFlagsUnlinkedComments(t *testing.T) {
	posts := []models.RawPost{rawPost(456 << 8)}
	comments := []models.RawComment{
		rawComment(100, 456, nil),
		rawComment(200, 777, nil), // no post with jitemid 777 was fetched
	}

	l := New(nil)
	result, err := l.Link(posts, comments, nil)
	require.NoError(t, err)

	assert.False(t, commentByID(t, result, 100).Unlinked)
	assert.True(t, commentByID(t, result, 200).Unlinked, "kept but flagged, not discarded")
	assert.Len(t, result.Comments, 2)
	assert.NotEmpty(t, result.Warnings)
}

func TestLinkPromotesOrphansToRoots(t *testing.T) {
	posts := []models.RawPost{rawPost(456 << 8)}
	comments := []models.RawComment{
		rawComment(100, 456, nil),
		rawComment(101, 456, intp(9999)), // parent was never fetched
	}

	l := New(nil)
	result, err := l.Link(posts, comments, nil)
	require.NoError(t, err)

	orphan := commentByID(t, result, 101)
	assert.Nil(t, orphan.ParentID, "orphan promoted to top-level")
	assert.NotEmpty(t, result.Warnings)
}

func TestLinkBreaksCycle(t *testing.T) {
	posts := []models.RawPost{rawPost(456 << 8)}
	// 100 -> 101 -> 102 -> 100 with no root at all
	comments := []models.RawComment{
		rawComment(100, 456, intp(102)),
		rawComment(101, 456, intp(100)),
		rawComment(102, 456, intp(101)),
	}

	l := New(nil)
	result, err := l.Link(posts, comments, nil)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeLinkIntegrity))

	// Best-effort forest still comes back with every comment present
	assert.Len(t, result.Comments, 3)

	// No id may be reachable from itself via children edges
	byID := make(map[int]models.Comment)
	roots := 0
	for _, c := range result.Comments {
		byID[c.ID] = c
		if c.ParentID == nil {
			roots++
		}
	}
	assert.GreaterOrEqual(t, roots, 1, "cycle break must produce a root")

	var assertAcyclic func(id int, seen map[int]bool)
	assertAcyclic = func(id int, seen map[int]bool) {
		require.False(t, seen[id], "comment %d reachable from itself", id)
		seen[id] = true
		for _, child := range byID[id].Children {
			assertAcyclic(child, seen)
		}
		delete(seen, id)
	}
	for _, c := range result.Comments {
		if c.ParentID == nil {
			assertAcyclic(c.ID, map[int]bool{})
		}
	}
}

func TestLinkSelfParentComment(t *testing.T) {
	posts := []models.RawPost{rawPost(456 << 8)}
	comments := []models.RawComment{rawComment(100, 456, intp(100))}

	l := New(nil)
	result, err := l.Link(posts, comments, nil)
	require.NoError(t, err)

	c := commentByID(t, result, 100)
	assert.Nil(t, c.ParentID)
	assert.Empty(t, c.Children)
}

func TestLinkRetainsDeletedComments(t *testing.T) {
	posts := []models.RawPost{rawPost(456 << 8)}
	deleted := models.CommentStateDeleted
	comments := []models.RawComment{
		rawComment(100, 456, nil),
		{ID: 101, JItemID: 456, ParentID: intp(100), State: &deleted},
		rawComment(102, 456, intp(101)),
	}

	l := New(nil)
	result, err := l.Link(posts, comments, nil)
	require.NoError(t, err)

	d := commentByID(t, result, 101)
	assert.True(t, d.IsDeleted())
	assert.Nil(t, d.Body)
	assert.Equal(t, []int{102}, d.Children, "children stay attached to the deleted comment")
}

func TestLinkEmptyInputs(t *testing.T) {
	l := New(nil)
	result, err := l.Link(nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Posts)
	assert.Empty(t, result.Comments)
	assert.Empty(t, result.Users)
}
