package livejournal

import (
	"fmt"
	"net/url"
)

// DefaultBaseURL is the production LiveJournal endpoint
const DefaultBaseURL = "https://www.livejournal.com"

const (
	loginPath          = "/login.bml"
	exportPostsPath    = "/export_do.bml"
	exportCommentsPath = "/export_comments.bml"
	inboxPath          = "/inbox/"
)

// exportPostsForm builds the form body for the per-month post export.
// Year is four digits, month is zero-padded to two.
func exportPostsForm(year, month int) url.Values {
	return url.Values{
		"what":   {"journal"},
		"year":   {fmt.Sprintf("%04d", year)},
		"month":  {fmt.Sprintf("%02d", month)},
		"format": {"xml"},
		"header": {"on"},
	}
}

// commentMetaURL returns the comment metadata endpoint (maxid + usermap)
func commentMetaURL(base string, startID int) string {
	return fmt.Sprintf("%s%s?get=comment_meta&startid=%d", base, exportCommentsPath, startID)
}

// commentBodyURL returns the comment body endpoint for a cursor position
func commentBodyURL(base string, startID int) string {
	return fmt.Sprintf("%s%s?get=comment_body&startid=%d", base, exportCommentsPath, startID)
}

// inboxURL returns the inbox listing for a folder view and page number
func inboxURL(base, view string, page int) string {
	return fmt.Sprintf("%s%s?view=%s&page=%d", base, inboxPath, url.QueryEscape(view), page)
}

// profileURL returns the profile page for a journal
func profileURL(base, username string) string {
	return fmt.Sprintf("%s/profile/?user=%s", base, url.QueryEscape(username))
}
