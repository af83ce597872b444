package extract

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
)

// dutchMonths maps the Dutch month abbreviations that differ from English.
// Exports generated under a Dutch locale write these into timestamps.
var dutchMonths = map[string]string{
	"mrt": "mar",
	"mei": "may",
	"okt": "oct",
}

func replaceDutchMonths(s string) string {
	for nl, en := range dutchMonths {
		if strings.Contains(s, nl) {
			return strings.Replace(s, nl, en, 1)
		}
	}
	return s
}

// ParseAnyTimestamp converts a free-form timestamp to ISO 8601, returning ""
// when it cannot. Ambiguous day/month orderings resolve as MM/DD; use only
// when the source format genuinely drifts.
func ParseAnyTimestamp(s string) string {
	s = replaceDutchMonths(strings.TrimSpace(s))
	if s != "" && isDigits(s) {
		return EpochToISO(s)
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02T15:04:05")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// EpochToISO converts an epoch-seconds value to an ISO 8601 UTC string. The
// input is returned unchanged when it is not an integer.
func EpochToISO(s string) string {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return s
	}
	return time.Unix(n, 0).UTC().Format(time.RFC3339)
}

// FixASCII drops every non-ASCII rune. Scraped timestamps carry narrow
// no-break spaces that trip date parsing.
func FixASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FixLatin1 reinterprets a string that was decoded as latin-1 but actually
// holds UTF-8 bytes. Returns the input unchanged when reinterpretation is not
// possible.
func FixLatin1(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return s
		}
		buf = append(buf, byte(r))
	}
	if utf8.Valid(buf) {
		return string(buf)
	}
	return s
}
