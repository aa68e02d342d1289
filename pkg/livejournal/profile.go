package livejournal

import (
	"encoding/json"
	gohtml "html"
	"regexp"
	"strconv"
	"strings"
	"time"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/logger"
)

// ProfileData is the journal metadata scraped from a profile page. It bounds
// the post export range so the fetcher does not walk months that predate the
// journal.
type ProfileData struct {
	PostCount    int
	CreatedYear  int
	CreatedMonth int
	UpdatedYear  int
	UpdatedMonth int
}

// monthNames maps localized month names to month numbers. Profile pages are
// rendered in the account's display language, so English alone is not enough.
var monthNames = map[string]int{
	// English
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6, "jul": 7,
	"aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,

	// Russian
	"января": 1, "февраля": 2, "марта": 3, "апреля": 4, "мая": 5, "июня": 6,
	"июля": 7, "августа": 8, "сентября": 9, "октября": 10, "ноября": 11, "декабря": 12,
	"янв": 1, "фев": 2, "мар": 3, "апр": 4, "июн": 6, "июл": 7,
	"авг": 8, "сен": 9, "окт": 10, "ноя": 11, "дек": 12,

	// German
	"januar": 1, "februar": 2, "märz": 3, "mai": 5, "juni": 6,
	"juli": 7, "oktober": 10, "dezember": 12,

	// French
	"janvier": 1, "février": 2, "mars": 3, "avril": 4, "juin": 6,
	"juillet": 7, "août": 8, "septembre": 9, "octobre": 10, "novembre": 11, "décembre": 12,

	// Spanish
	"enero": 1, "febrero": 2, "marzo": 3, "abril": 4, "mayo": 5, "junio": 6,
	"julio": 7, "agosto": 8, "septiembre": 9, "octubre": 10, "noviembre": 11, "diciembre": 12,
}

var (
	siteRemotePattern    = regexp.MustCompile(`(?s)Site\.remote\s*=\s*(\{.*?\});`)
	statEntryCountRe     = regexp.MustCompile(`(?s)class="b-profile-stat-item\s+b-profile-stat-entrycount"[^>]*>.*?class="b-profile-stat-value">(\d+)</div>`)
	creationDatePattern  = regexp.MustCompile(`on\s+(\d+)\s+([\p{L}]+)\s+(\d{4})`)
	updateTooltipPattern = regexp.MustCompile(`<span class="tooltip"[^>]*>(\d+)\s+([\p{L}]+)\s+(\d{4})</span>`)
)

// ParseProfile extracts the post count and journal creation date from profile
// page HTML. The post count comes from the Site.remote JSON blob when
// present, falling back to the statistics section; the creation date is
// required, the last-update date defaults to the current month.
func ParseProfile(html string, log logger.Logger) (*ProfileData, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	postCount, ok := postCountFromJSON(html)
	if !ok {
		postCount, ok = postCountFromStats(html)
	}
	if !ok {
		return nil, errs.New(errs.ErrorTypeParsing, "could not extract post count from profile page")
	}

	decoded := gohtml.UnescapeString(html)

	createdYear, createdMonth, err := creationDate(decoded)
	if err != nil {
		return nil, err
	}

	updatedYear, updatedMonth, ok := updateDate(decoded)
	if !ok {
		now := time.Now()
		updatedYear, updatedMonth = now.Year(), int(now.Month())
	}

	log.DebugWithFields("parsed profile", map[string]interface{}{
		"post_count":    postCount,
		"created_year":  createdYear,
		"created_month": createdMonth,
	})

	return &ProfileData{
		PostCount:    postCount,
		CreatedYear:  createdYear,
		CreatedMonth: createdMonth,
		UpdatedYear:  updatedYear,
		UpdatedMonth: updatedMonth,
	}, nil
}

func postCountFromJSON(html string) (int, bool) {
	match := siteRemotePattern.FindStringSubmatch(html)
	if match == nil {
		return 0, false
	}
	var remote struct {
		NumberOfPosts string `json:"number_of_posts"`
	}
	if err := json.Unmarshal([]byte(match[1]), &remote); err != nil {
		return 0, false
	}
	count, err := strconv.Atoi(remote.NumberOfPosts)
	if err != nil {
		return 0, false
	}
	return count, true
}

func postCountFromStats(html string) (int, bool) {
	match := statEntryCountRe.FindStringSubmatch(html)
	if match == nil {
		return 0, false
	}
	count, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return count, true
}

// creationDate reads the "Journal created: on DD Month YYYY" line
func creationDate(decoded string) (int, int, error) {
	match := creationDatePattern.FindStringSubmatch(decoded)
	if match == nil {
		return 0, 0, errs.New(errs.ErrorTypeParsing, "could not find journal creation date in profile")
	}
	month, ok := monthNames[strings.ToLower(match[2])]
	if !ok {
		return 0, 0, errs.Newf(errs.ErrorTypeParsing, "unknown month name %q in journal creation date", match[2])
	}
	year, err := strconv.Atoi(match[3])
	if err != nil {
		return 0, 0, errs.Wrap(errs.ErrorTypeParsing, "invalid year in journal creation date", err)
	}
	return year, month, nil
}

func updateDate(decoded string) (int, int, bool) {
	match := updateTooltipPattern.FindStringSubmatch(decoded)
	if match == nil {
		return 0, 0, false
	}
	month, ok := monthNames[strings.ToLower(match[2])]
	if !ok {
		return 0, 0, false
	}
	year, err := strconv.Atoi(match[3])
	if err != nil {
		return 0, 0, false
	}
	return year, month, true
}
