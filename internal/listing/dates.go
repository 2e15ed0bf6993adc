package listing

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateVocabulary holds the market words needed to read human dates such as
// "Dzisiaj o 12:30" or "12 maja 2024".
type DateVocabulary struct {
	Today     []string
	Yesterday []string
	// Refreshed marks bumped offers, e.g. "Odświeżono dnia 3 maja".
	Refreshed []string
	Months    map[string]time.Month
	Location  *time.Location
}

var (
	clockPattern    = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	dayMonthPattern = regexp.MustCompile(`(\d{1,2})\s+(\p{L}+)(?:\s+(\d{4}))?`)
	isoLayouts      = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
)

// Parse reads machine (ISO-8601) and human dates. Relative words resolve
// against now in the vocabulary's location.
func (v DateVocabulary) Parse(text string, now time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	loc := v.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, true
		}
	}

	lower := strings.ToLower(text)
	local := now.In(loc)
	if day, ok := v.relativeDay(lower, local); ok {
		hour, minute := 0, 0
		if m := clockPattern.FindStringSubmatch(lower); m != nil {
			hour, _ = strconv.Atoi(m[1])
			minute, _ = strconv.Atoi(m[2])
		}
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), true
	}

	for _, m := range dayMonthPattern.FindAllStringSubmatch(lower, -1) {
		month, ok := v.Months[m[2]]
		if !ok {
			continue
		}
		day, err := strconv.Atoi(m[1])
		if err != nil || day < 1 || day > 31 {
			continue
		}
		year := local.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		return time.Date(year, month, day, 0, 0, 0, 0, loc), true
	}
	return time.Time{}, false
}

// HasRelativeWord reports whether text mentions today, yesterday or a refresh.
func (v DateVocabulary) HasRelativeWord(text string) bool {
	lower := strings.ToLower(text)
	for _, words := range [][]string{v.Today, v.Yesterday, v.Refreshed} {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}

func (v DateVocabulary) relativeDay(lower string, local time.Time) (time.Time, bool) {
	for _, w := range v.Today {
		if strings.Contains(lower, w) {
			return local, true
		}
	}
	for _, w := range v.Yesterday {
		if strings.Contains(lower, w) {
			return local.AddDate(0, 0, -1), true
		}
	}
	return time.Time{}, false
}
