package notifications

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayTitle converts a file stem into the human-facing form used in
// notification bodies: underscores become spaces, runs of whitespace
// collapse, and each word gets a leading capital without folding letters
// that are already upper case.
func DisplayTitle(stem string) string {
	cleaned := strings.ReplaceAll(stem, "_", " ")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return strings.TrimSpace(stem)
	}
	return cases.Title(language.English, cases.NoLower).String(cleaned)
}
