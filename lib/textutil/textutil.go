package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// strips non-printable characters, trims surrounding whitespace and
// collapses runs of inner whitespace into a single space.
func CleanText(s string) string {
	var out strings.Builder
	for _, c := range s {
		if unicode.IsPrint(c) {
			out.WriteRune(c)
		}
	}
	cleaned := strings.Trim(out.String(), " \t\n")
	return innerWhitespace.ReplaceAllString(cleaned, " ")
}

var allWhitespace = regexp.MustCompile(`\s+`)

// lowers and strips all whitespace, for comparing identifiers that may
// have been copied out of rendered pages.
func NormalizeID(id string) string {
	id = strings.ToLower(id)
	id = strings.Trim(id, " \n\t")
	return allWhitespace.ReplaceAllString(id, "")
}
