package vars

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`@(\w+)`)

// Interpolate replaces every @name token whose name is in v with the text
// form of its value. Unknown tokens are kept byte for byte and substituted
// text is never scanned again.
func Interpolate(template string, v Vars) string {
	return replace(template, v, nil)
}

// InterpolateHTML works like Interpolate but escapes substituted values so
// visitor input cannot inject markup into embedded HTML.
func InterpolateHTML(template string, v Vars) string {
	return replace(template, v, html.EscapeString)
}

// InterpolateURL works like Interpolate for URL templates. Values are
// path-escaped before the first ? or # and query-escaped after it, so a
// value can never add path segments or query parameters.
func InterpolateURL(template string, v Vars) string {
	i := strings.IndexAny(template, "?#")
	if i < 0 {
		return replace(template, v, url.PathEscape)
	}
	return replace(template[:i], v, url.PathEscape) + replace(template[i:], v, url.QueryEscape)
}

func replace(template string, v Vars, escape func(string) string) string {
	if template == "" || len(v) == 0 {
		return template
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		val, ok := v[match[1:]]
		if !ok {
			return match
		}
		s := FormatValue(val)
		if escape != nil {
			s = escape(s)
		}
		return s
	})
}

// Tokens returns the distinct token names of template in order of appearance.
func Tokens(template string) []string {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
