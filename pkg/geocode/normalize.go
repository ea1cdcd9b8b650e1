package geocode

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// countrySuffixes are trailing qualifiers stripped before lookup. Longer
// forms come first so ", united states" is not cut down to ", united".
var countrySuffixes = []string{
	"united states of america",
	"united states",
	"united kingdom",
	"great britain",
	"usa",
	"us",
	"u.s.a.",
	"u.s.",
	"america",
	"uk",
	"england",
	"canada",
	"germany",
	"france",
	"india",
	"australia",
	"netherlands",
	"israel",
	"singapore",
	"worldwide",
	"global",
	"earth",
}

var (
	remoteSuffixRe = regexp.MustCompile(`(^|[\s,/(\-|]+)\(?\s*(fully\s+)?remote(\s+(friendly|ok|first|only))?\s*\)?$`)
	remotePrefixRe = regexp.MustCompile(`^(fully\s+)?remote\s*[-/,|:]\s*`)
	spaceRe        = regexp.MustCompile(`\s+`)
)

// Normalize reduces a location hint to a city-level lookup key: lowercase,
// diacritics removed, trailing country and "remote" qualifiers stripped, and
// only the first comma-separated segment kept.
func Normalize(query string) string {
	s := strings.ToLower(strings.TrimSpace(query))
	s = stripMarks(s)
	s = spaceRe.ReplaceAllString(s, " ")

	for {
		before := s
		s = remoteSuffixRe.ReplaceAllString(s, "")
		s = remotePrefixRe.ReplaceAllString(s, "")
		s = stripCountry(s)
		s = strings.Trim(s, " ,;/-|")
		if s == before {
			break
		}
	}
	if s == "remote" {
		return ""
	}

	if i := strings.Index(s, ","); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Trim(s, " ./-"))
}

// stripCountry removes one trailing ", <country>" qualifier.
func stripCountry(s string) string {
	for _, c := range countrySuffixes {
		for _, sep := range []string{", ", ","} {
			if strings.HasSuffix(s, sep+c) {
				return strings.TrimSuffix(s, sep+c)
			}
		}
	}
	return s
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
