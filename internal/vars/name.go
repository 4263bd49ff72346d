package vars

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nameStrip      = regexp.MustCompile(`[^a-z0-9\s-]`)
	nameWhitespace = regexp.MustCompile(`\s+`)
)

// DeriveName turns a section title into a variable name.
// "What's your Budget?" becomes "whats_your_budget". Titles that leave
// nothing behind fall back to section_<index+1>.
func DeriveName(title string, index int) string {
	name := strings.ToLower(title)
	name = nameStrip.ReplaceAllString(name, "")
	name = nameWhitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "section_" + strconv.Itoa(index+1)
	}
	return name
}
