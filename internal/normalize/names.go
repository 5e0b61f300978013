package normalize

import (
	"strings"
	"unicode"

	"github.com/polera/gonameparts"
)

// collapseSpace turns runs of whitespace into a single space.
func collapseSpace(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}
	return b.String()
}

// SplitName returns the first and last name of a full name. Voter exports write
// "LAST, FIRST MIDDLE"; the surname before the comma is taken as is and the given
// names are parsed for titles. Other names are parsed whole, so titles and generational
// suffixes are dropped and surname particles such as "DE LA" stay with the surname.
func SplitName(full string) (first, last string) {
	full = collapseSpace(full)
	if full == "" {
		return "", ""
	}

	if head, tail, ok := strings.Cut(full, ","); ok {
		// "SMITH, JOHN, JR" carries the suffix after a second comma.
		tail, _, _ = strings.Cut(tail, ",")
		return givenName(strings.TrimSpace(tail)), trimName(head)
	}

	if !strings.Contains(full, " ") {
		return trimName(full), ""
	}
	parts := gonameparts.Parse(full)
	return trimName(parts.FirstName), trimName(parts.LastName)
}

// givenName returns the first given name of the part after the comma.
func givenName(s string) string {
	if s == "" {
		return ""
	}
	if !strings.Contains(s, " ") {
		return trimName(s)
	}
	parts := gonameparts.Parse(s)
	if parts.FirstName != "" {
		return trimName(parts.FirstName)
	}
	return trimName(strings.Fields(s)[0])
}

func trimName(s string) string {
	return strings.Trim(strings.TrimSpace(s), ".,")
}
