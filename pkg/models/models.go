package models

import "encoding/xml"

// DeriveJItemID computes the post identifier used by comment records from a
// post's itemid. The derived value is never taken from external data.
func DeriveJItemID(itemID int) int {
	return itemID >> 8
}

// User is a numeric user id to username mapping built from comment metadata
type User struct {
	ID       int    `yaml:"userid" json:"userid" xml:"id,attr"`
	Username string `yaml:"username" json:"username" xml:"user,attr"`
}

// RawPost is a post record as returned by the per-month export endpoint
type RawPost struct {
	ItemID       int     `yaml:"itemid" json:"itemid"`
	EventTime    string  `yaml:"eventtime" json:"eventtime"`
	LogTime      string  `yaml:"logtime" json:"logtime"`
	Subject      *string `yaml:"subject" json:"subject"`
	Event        string  `yaml:"event" json:"event"`
	Security     string  `yaml:"security" json:"security"`
	AllowMask    int     `yaml:"allowmask" json:"allowmask"`
	CurrentMood  *string `yaml:"current_mood" json:"current_mood"`
	CurrentMusic *string `yaml:"current_music" json:"current_music"`
}

// Post is the canonical post record. JItemID is always recomputed from
// ItemID via DeriveJItemID.
type Post struct {
	ItemID       int     `yaml:"itemid" json:"itemid" xml:"itemid"`
	JItemID      int     `yaml:"jitemid" json:"jitemid" xml:"jitemid"`
	EventTime    string  `yaml:"eventtime" json:"eventtime" xml:"eventtime"`
	LogTime      string  `yaml:"logtime" json:"logtime" xml:"logtime"`
	Subject      *string `yaml:"subject" json:"subject" xml:"subject"`
	Event        string  `yaml:"event" json:"event" xml:"event"`
	Security     string  `yaml:"security" json:"security" xml:"security"`
	AllowMask    int     `yaml:"allowmask" json:"allowmask" xml:"allowmask"`
	CurrentMood  *string `yaml:"current_mood" json:"current_mood" xml:"current_mood"`
	CurrentMusic *string `yaml:"current_music" json:"current_music" xml:"current_music"`
}

// NewPost builds a canonical Post from a raw record
func NewPost(raw RawPost) Post {
	return Post{
		ItemID:       raw.ItemID,
		JItemID:      DeriveJItemID(raw.ItemID),
		EventTime:    raw.EventTime,
		LogTime:      raw.LogTime,
		Subject:      raw.Subject,
		Event:        raw.Event,
		Security:     raw.Security,
		AllowMask:    raw.AllowMask,
		CurrentMood:  raw.CurrentMood,
		CurrentMusic: raw.CurrentMusic,
	}
}

// CommentStateDeleted marks a comment the server reports as deleted. Deleted
// comments are retained so their children stay attached.
const CommentStateDeleted = "deleted"

// RawComment is a comment record as returned by the comment body endpoint.
// PosterID is nil for anonymous comments; ParentID is nil for top-level ones.
type RawComment struct {
	ID       int     `yaml:"id" json:"id"`
	JItemID  int     `yaml:"jitemid" json:"jitemid"`
	PosterID *int    `yaml:"posterid" json:"posterid"`
	ParentID *int    `yaml:"parentid" json:"parentid"`
	State    *string `yaml:"state" json:"state"`
	Date     string  `yaml:"date" json:"date"`
	Subject  *string `yaml:"subject" json:"subject"`
	Body     *string `yaml:"body" json:"body"`
}

// Comment is the canonical comment record. PosterUsername is nil when the
// comment is anonymous or the posterid is missing from the usermap (the
// source API does not distinguish the two). Children holds the ids of direct
// replies; Unlinked marks comments whose jitemid matches no fetched post.
type Comment struct {
	ID             int     `yaml:"id" json:"id" xml:"id"`
	JItemID        int     `yaml:"jitemid" json:"jitemid" xml:"jitemid"`
	PosterID       *int    `yaml:"posterid" json:"posterid" xml:"posterid"`
	PosterUsername *string `yaml:"poster_username" json:"poster_username" xml:"poster_username"`
	ParentID       *int    `yaml:"parentid" json:"parentid" xml:"parentid"`
	State          *string `yaml:"state" json:"state" xml:"state"`
	Date           string  `yaml:"date" json:"date" xml:"date"`
	Subject        *string `yaml:"subject" json:"subject" xml:"subject"`
	Body           *string `yaml:"body" json:"body" xml:"body"`
	Children       []int   `yaml:"children" json:"children" xml:"children>id"`
	Unlinked       bool    `yaml:"unlinked,omitempty" json:"unlinked,omitempty" xml:"unlinked,omitempty"`
}

// IsDeleted reports whether the comment carries the deleted state marker
func (c *Comment) IsDeleted() bool {
	return c.State != nil && *c.State == CommentStateDeleted
}

// MessageType is the closed set of inbox message variants
type MessageType string

const (
	MessageTypeUser     MessageType = "user_message"
	MessageTypeSystem   MessageType = "system_notification"
	MessageTypeOfficial MessageType = "official_message"
)

// InboxSender identifies the sender of a user or official message
type InboxSender struct {
	Username    string  `yaml:"username" json:"username" xml:"username"`
	DisplayName string  `yaml:"display_name" json:"display_name" xml:"display_name"`
	ProfileURL  string  `yaml:"profile_url" json:"profile_url" xml:"profile_url"`
	UserpicURL  *string `yaml:"userpic_url" json:"userpic_url" xml:"userpic_url"`
	Verified    bool    `yaml:"verified" json:"verified" xml:"verified"`
}

// InboxMessage is one row scraped from an inbox folder view. MsgID is nil
// when the row carries no resolvable message id; Sender is nil for system
// notifications.
type InboxMessage struct {
	QID               int          `yaml:"qid" json:"qid" xml:"qid"`
	MsgID             *int         `yaml:"msgid" json:"msgid" xml:"msgid"`
	Type              MessageType  `yaml:"type" json:"type" xml:"type"`
	Sender            *InboxSender `yaml:"sender" json:"sender" xml:"sender"`
	Title             string       `yaml:"title" json:"title" xml:"title"`
	Body              string       `yaml:"body" json:"body" xml:"body"`
	TimestampRelative string       `yaml:"timestamp_relative" json:"timestamp_relative" xml:"timestamp_relative"`
	TimestampAbsolute *string      `yaml:"timestamp_absolute" json:"timestamp_absolute" xml:"timestamp_absolute"`
	Read              bool         `yaml:"read" json:"read" xml:"read"`
	Bookmarked        bool         `yaml:"bookmarked" json:"bookmarked" xml:"bookmarked"`
	Folder            string       `yaml:"folder,omitempty" json:"folder,omitempty" xml:"folder,omitempty"`
}

// ExportMetadata describes the export operation itself
type ExportMetadata struct {
	ExportDate   string `yaml:"export_date" json:"export_date" xml:"export_date"`
	Account      string `yaml:"lj_user" json:"lj_user" xml:"lj_user"`
	ToolVersion  string `yaml:"yalje_version" json:"yalje_version" xml:"yalje_version"`
	PostCount    int    `yaml:"post_count" json:"post_count" xml:"post_count"`
	CommentCount int    `yaml:"comment_count" json:"comment_count" xml:"comment_count"`
	InboxCount   int    `yaml:"inbox_count" json:"inbox_count" xml:"inbox_count"`
}

// ExportBundle is the aggregate root handed to an exporter. Counts in
// Metadata always equal the lengths of the corresponding sets; collections
// are sorted (posts by itemid, comments by id, inbox by qid, users by id) so
// exports are diffable.
type ExportBundle struct {
	XMLName  xml.Name       `yaml:"-" json:"-" xml:"lj_export"`
	Metadata ExportMetadata `yaml:"metadata" json:"metadata" xml:"metadata"`
	Users    []User         `yaml:"usermap" json:"usermap" xml:"usermap>user"`
	Posts    []Post         `yaml:"posts" json:"posts" xml:"posts>post"`
	Comments []Comment      `yaml:"comments" json:"comments" xml:"comments>comment"`
	Inbox    []InboxMessage `yaml:"inbox" json:"inbox" xml:"inbox>message"`
}
