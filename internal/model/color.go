package model

import (
	"regexp"
	"strings"
)

var hexColorPattern = regexp.MustCompile(`#(?:[0-9a-fA-F]{6}|[0-9a-fA-F]{3})\b`)

// ExtractColors returns the distinct hex colors referenced by content, in order
// of first appearance, normalized to lowercase #rrggbb.
func ExtractColors(content string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range hexColorPattern.FindAllString(content, -1) {
		c := normalizeHex(m)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// normalizeHex lowercases a hex color and expands the short form.
// It returns "" when s is not a hex color.
func normalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if !hexColorPattern.MatchString(s) || (len(s) != 4 && len(s) != 7) {
		return ""
	}
	if len(s) == 4 {
		return string([]byte{'#', s[1], s[1], s[2], s[2], s[3], s[3]})
	}
	return s
}
