package livejournal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
)

const samplePostsXML = `<?xml version="1.0" encoding="utf-8"?>
<livejournal>
  <entry>
    <itemid>116736</itemid>
    <eventtime>2023-01-15 14:30:00</eventtime>
    <logtime>2023-01-15 14:30:05</logtime>
    <subject>First Post Title</subject>
    <event><![CDATA[<p>This is the <b>first post</b> with HTML content.</p>]]></event>
    <security>public</security>
    <allowmask>0</allowmask>
    <current_mood>happy</current_mood>
    <current_music>Artist - Song Title</current_music>
  </entry>
  <entry>
    <itemid>116992</itemid>
    <eventtime>2023-01-20 09:00:00</eventtime>
    <logtime>2023-01-20 09:00:01</logtime>
    <subject></subject>
    <event><![CDATA[Private thoughts.]]></event>
    <security>private</security>
  </entry>
  <entry>
    <itemid>117760</itemid>
    <eventtime>2023-01-28 22:15:00</eventtime>
    <logtime>2023-01-28 22:15:03</logtime>
    <subject>Custom Group Post</subject>
    <event><![CDATA[For the inner circle.]]></event>
    <security>custom</security>
    <allowmask>42</allowmask>
  </entry>
</livejournal>`

func TestParsePosts(t *testing.T) {
	posts, err := ParsePosts(samplePostsXML)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	first := posts[0]
	assert.Equal(t, 116736, first.ItemID)
	require.NotNil(t, first.Subject)
	assert.Equal(t, "First Post Title", *first.Subject)
	assert.Equal(t, "<p>This is the <b>first post</b> with HTML content.</p>", first.Event)
	assert.Equal(t, "public", first.Security)
	assert.Equal(t, 0, first.AllowMask)
	require.NotNil(t, first.CurrentMood)
	assert.Equal(t, "happy", *first.CurrentMood)

	second := posts[1]
	assert.Equal(t, 116992, second.ItemID)
	assert.Nil(t, second.Subject, "empty subject should come back nil")
	assert.Equal(t, "private", second.Security)
	assert.Nil(t, second.CurrentMood)
	assert.Nil(t, second.CurrentMusic)

	third := posts[2]
	assert.Equal(t, "custom", third.Security)
	assert.Equal(t, 42, third.AllowMask)
}

func TestParsePostsEmptyMonth(t *testing.T) {
	posts, err := ParsePosts(`<?xml version="1.0"?><livejournal></livejournal>`)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestParsePostsMalformed(t *testing.T) {
	_, err := ParsePosts(`<livejournal><entry>broken`)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeParsing))
}

func TestParsePostsMissingItemID(t *testing.T) {
	xml := `<livejournal><entry><eventtime>2023-01-15 14:30:00</eventtime><event>x</event><security>public</security></entry></livejournal>`
	_, err := ParsePosts(xml)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "itemid")
}

func TestParsePostsMissingSecurity(t *testing.T) {
	xml := `<livejournal><entry><itemid>1</itemid><event>x</event></entry></livejournal>`
	_, err := ParsePosts(xml)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security")
}

func TestParseCommentMeta(t *testing.T) {
	xml := `<?xml version="1.0"?>
<livejournal>
  <maxid>987654</maxid>
  <usermap id="123" user="friend1" />
  <usermap id="456" user="friend2" />
  <usermap user="missing_id" />
  <usermap id="not_a_number" user="bad_id" />
  <usermap id="789" user="testuser" />
</livejournal>`

	maxID, users, err := ParseCommentMeta(xml, nil)
	require.NoError(t, err)
	assert.Equal(t, 987654, maxID)
	require.Len(t, users, 3)
	assert.Equal(t, 123, users[0].ID)
	assert.Equal(t, "friend1", users[0].Username)
	assert.Equal(t, "testuser", users[2].Username)
}

func TestParseCommentMetaZeroMaxID(t *testing.T) {
	maxID, users, err := ParseCommentMeta(`<livejournal><maxid>0</maxid></livejournal>`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, maxID)
	assert.Empty(t, users)
}

func TestParseCommentMetaMissingMaxID(t *testing.T) {
	_, _, err := ParseCommentMeta(`<livejournal><usermap id="1" user="x" /></livejournal>`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxid")
}

func TestParseCommentMetaInvalidMaxID(t *testing.T) {
	_, _, err := ParseCommentMeta(`<livejournal><maxid>not_a_number</maxid></livejournal>`, nil)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeParsing))
}

func TestParseCommentBodies(t *testing.T) {
	xml := `<?xml version="1.0"?>
<livejournal>
  <comments>
    <comment id="100" jitemid="456" posterid="123">
      <date>2023-01-15T15:00:00Z</date>
      <subject>Nice post</subject>
      <body><![CDATA[I agree with <i>everything</i>.]]></body>
    </comment>
    <comment id="101" jitemid="456" posterid="456" parentid="100">
      <date>2023-01-15T15:30:00Z</date>
      <body>Reply text</body>
    </comment>
    <comment id="102" jitemid="456" parentid="100" state="D">
      <date>2023-01-15T16:00:00Z</date>
    </comment>
    <comment id="103" jitemid="456" posterid="0" parentid="0">
      <date>2023-01-15T17:00:00Z</date>
      <body>Anonymous drive-by</body>
    </comment>
  </comments>
</livejournal>`

	comments, err := ParseCommentBodies(xml, nil)
	require.NoError(t, err)
	require.Len(t, comments, 4)

	first := comments[0]
	assert.Equal(t, 100, first.ID)
	assert.Equal(t, 456, first.JItemID)
	require.NotNil(t, first.PosterID)
	assert.Equal(t, 123, *first.PosterID)
	assert.Nil(t, first.ParentID)
	assert.Nil(t, first.State)
	assert.Equal(t, "I agree with <i>everything</i>.", *first.Body)

	reply := comments[1]
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, 100, *reply.ParentID)
	assert.Nil(t, reply.Subject)

	deleted := comments[2]
	require.NotNil(t, deleted.State)
	assert.Equal(t, "deleted", *deleted.State)
	assert.Nil(t, deleted.PosterID)

	anon := comments[3]
	assert.Nil(t, anon.PosterID, "posterid 0 means anonymous")
	assert.Nil(t, anon.ParentID, "parentid 0 means top-level")
}

func TestParseCommentBodiesSkipsInvalidRecords(t *testing.T) {
	xml := `<livejournal>
  <comments>
    <comment jitemid="456"><date>2023-01-01T00:00:00Z</date></comment>
    <comment id="200" jitemid="456"><body>kept</body></comment>
  </comments>
</livejournal>`

	comments, err := ParseCommentBodies(xml, nil)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, 200, comments[0].ID)
}

func TestParseCommentBodiesEmptyBatch(t *testing.T) {
	comments, err := ParseCommentBodies(`<livejournal><comments></comments></livejournal>`, nil)
	require.NoError(t, err)
	assert.Empty(t, comments)
}
