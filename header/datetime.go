package header

import (
	"regexp"
	"strings"
	"time"
)

var (
	defaultDatePattern = regexp.MustCompile(`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{4}`)
	defaultTimePattern = regexp.MustCompile(`\d{1,2}:\d{2}(:\d{2}(\.\d+)?)?(\s*[AaPp][Mm])?`)
)

// Day-first and month-first layouts are both listed; a token that parses
// under both to different dates is reported as ambiguous.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"20060102",
	"2/1/2006",
	"1/2/2006",
	"2.1.2006",
	"1.2.2006",
	"2-1-2006",
	"1-2-2006",
	"2 January 2006",
	"January 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"02-Jan-2006",
}

// Fractional seconds after the seconds field are accepted by every layout
// with seconds.
var timeLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04:05 PM",
	"3:04:05PM",
	"3:04 PM",
	"3:04PM",
	"150405",
}

// resolve parses tok with every layout and requires exactly one distinct
// result.
func resolve(field, tok string, layouts []string) (time.Time, error) {
	tok = strings.TrimSpace(tok)
	var found []time.Time
	for _, layout := range layouts {
		t, err := time.Parse(layout, tok)
		if err != nil {
			continue
		}
		dup := false
		for _, f := range found {
			if f.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			found = append(found, t)
		}
	}
	if len(found) != 1 {
		return time.Time{}, &AmbiguousDateTimeError{Field: field, Token: tok, Candidates: found}
	}
	return found[0], nil
}
