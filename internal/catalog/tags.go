package catalog

import (
	"regexp"
	"strings"
)

// Numeric codes look like {00042}; semantic keys look like <bank_name_local>.
var tagRe = regexp.MustCompile(`\{(\d{5})\}|<([a-z][a-z0-9_]*)>`)

// Normalize strips the {} or <> wrapper from a tag.
func Normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if len(tag) >= 2 {
		if (tag[0] == '{' && tag[len(tag)-1] == '}') || (tag[0] == '<' && tag[len(tag)-1] == '>') {
			tag = tag[1 : len(tag)-1]
		}
	}
	return strings.TrimSpace(tag)
}

// Extract returns the normalized tags found in text, in first-appearance
// order and without duplicates.
func Extract(text string) []string {
	seen := map[string]bool{}
	var tags []string
	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		tag := m[1]
		if tag == "" {
			tag = m[2]
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// Substitute replaces every occurrence of each tag in values, in either
// wrapper form. Tags without a value are left in place.
func Substitute(text string, values map[string]string) string {
	if len(values) == 0 {
		return text
	}
	return tagRe.ReplaceAllStringFunc(text, func(match string) string {
		if v, ok := values[Normalize(match)]; ok {
			return v
		}
		return match
	})
}

// Unresolved reports tags still present in text after substitution.
func Unresolved(text string) []string {
	return Extract(text)
}
