package livejournal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
)

var (
	msgidPattern      = regexp.MustCompile(`msgid=(\d+)`)
	pageNumberPattern = regexp.MustCompile(`Page\s+(\d+)\s+of\s+(\d+)`)
	titleFromPattern  = regexp.MustCompile(`\s*from\s*$`)
)

// ParseInboxPage extracts the messages from one inbox folder page and reports
// whether another page follows. Rows that cannot be parsed are skipped with a
// warning so one broken row does not lose the page.
func ParseInboxPage(html string, log logger.Logger) ([]models.InboxMessage, bool, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false, errs.Wrap(errs.ErrorTypeParsing, "failed to parse inbox HTML", err)
	}

	var messages []models.InboxMessage
	doc.Find("tr.InboxItem_Row").Each(func(_ int, row *goquery.Selection) {
		msg, ok := parseInboxRow(row, log)
		if ok {
			messages = append(messages, msg)
		}
	})

	hasNext := false
	if current, total, ok := parsePagination(doc); ok {
		hasNext = current < total
	} else {
		log.Debug("no pagination info found, assuming single page")
	}

	return messages, hasNext, nil
}

func parseInboxRow(row *goquery.Selection, log logger.Logger) (models.InboxMessage, bool) {
	qidStr, exists := row.Attr("lj_qid")
	if !exists {
		log.Warn("inbox row missing lj_qid attribute")
		return models.InboxMessage{}, false
	}
	qid, err := strconv.Atoi(qidStr)
	if err != nil {
		log.WarnWithFields("inbox row has invalid qid", map[string]interface{}{
			"qid": qidStr,
		})
		return models.InboxMessage{}, false
	}

	titleSpan := row.Find("span.InboxItem_Title").First()
	if titleSpan.Length() == 0 {
		log.WarnWithFields("inbox row missing title span", map[string]interface{}{
			"qid": qid,
		})
		return models.InboxMessage{}, false
	}

	sender := parseSender(titleSpan)

	// The title span mixes the subject text with the sender markup, so the
	// ljuser span is stripped before reading the text.
	title := strings.TrimSpace(titleSpan.Clone().Find("span.ljuser").Remove().End().Text())
	title = strings.TrimSpace(titleFromPattern.ReplaceAllString(title, ""))
	if title == "" {
		title = "No subject"
	}

	body := ""
	if content := row.Find("div.InboxItem_Content").First(); content.Length() > 0 {
		body = strings.TrimSpace(content.Clone().Find("div.actions").Remove().End().Text())
	}
	if body == "" {
		body = "No content"
	}

	timestamp := "Unknown"
	if timeCell := row.Find("td.time").First(); timeCell.Length() > 0 {
		timestamp = strings.TrimSpace(timeCell.Text())
	}

	bookmarked := false
	if img := row.Find("img.InboxItem_Bookmark").First(); img.Length() > 0 {
		src, _ := img.Attr("src")
		bookmarked = strings.Contains(src, "flag_on.gif")
	}

	msgType := models.MessageTypeSystem
	if sender != nil {
		if sender.Username == "livejournal" && sender.Verified {
			msgType = models.MessageTypeOfficial
		} else {
			msgType = models.MessageTypeUser
		}
	}

	return models.InboxMessage{
		QID:               qid,
		MsgID:             parseMsgID(row),
		Type:              msgType,
		Sender:            sender,
		Title:             title,
		Body:              body,
		TimestampRelative: timestamp,
		TimestampAbsolute: nil,
		Read:              titleSpan.HasClass("InboxItem_Read"),
		Bookmarked:        bookmarked,
	}, true
}

// parseSender reads the ljuser span inside the title. A missing span means
// the row is a system notification.
func parseSender(titleSpan *goquery.Selection) *models.InboxSender {
	ljuser := titleSpan.Find("span.ljuser").First()
	if ljuser.Length() == 0 {
		return nil
	}
	username, exists := ljuser.Attr("data-ljuser")
	if !exists || username == "" {
		return nil
	}

	displayName := username
	if b := ljuser.Find("b").First(); b.Length() > 0 {
		if text := strings.TrimSpace(b.Text()); text != "" {
			displayName = text
		}
	}

	profileURL := fmt.Sprintf("https://%s.livejournal.com/profile/", username)
	if link := ljuser.Find("a.i-ljuser-profile").First(); link.Length() > 0 {
		if href, ok := link.Attr("href"); ok && href != "" {
			profileURL = href
		}
	}

	var userpicURL *string
	if img := ljuser.Find("img.i-ljuser-userhead").First(); img.Length() > 0 {
		if src, ok := img.Attr("src"); ok {
			userpicURL = &src
		}
	}

	return &models.InboxSender{
		Username:    username,
		DisplayName: displayName,
		ProfileURL:  profileURL,
		UserpicURL:  userpicURL,
		Verified:    ljuser.Find("a.i-ljuser-badge--verified").Length() > 0,
	}
}

// parseMsgID pulls the message id out of the reply link, when there is one.
// Notification rows have no reply action and no msgid.
func parseMsgID(row *goquery.Selection) *int {
	actions := row.Find("div.actions").First()
	if actions.Length() == 0 {
		return nil
	}

	var msgid *int
	actions.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		match := msgidPattern.FindStringSubmatch(href)
		if match == nil {
			return true
		}
		if v, err := strconv.Atoi(match[1]); err == nil {
			msgid = &v
			return false
		}
		return true
	})
	return msgid
}

func parsePagination(doc *goquery.Document) (current, total int, ok bool) {
	span := doc.Find("span.page-number").First()
	if span.Length() == 0 {
		return 0, 0, false
	}
	match := pageNumberPattern.FindStringSubmatch(strings.TrimSpace(span.Text()))
	if match == nil {
		return 0, 0, false
	}
	current, err1 := strconv.Atoi(match[1])
	total, err2 := strconv.Atoi(match[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return current, total, true
}
