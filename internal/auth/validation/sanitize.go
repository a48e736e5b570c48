package validation

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// CleanText strips every HTML element from free text supplied by clients and
// trims surrounding whitespace. Entities are decoded again so the stored
// value is plain text; output encoding is the renderer's job.
func CleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
