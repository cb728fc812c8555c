package model

import (
	"regexp"
	"strings"
)

var (
	nonSlugChars = regexp.MustCompile(`[^\w\s-]`)
	slugSeps     = regexp.MustCompile(`[-\s]+`)
)

// Slug lowercases s, drops everything but word characters, spaces and
// hyphens, and joins the remaining runs with single hyphens. Tag values and
// note file names share it.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlugChars.ReplaceAllString(s, "")
	s = slugSeps.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
