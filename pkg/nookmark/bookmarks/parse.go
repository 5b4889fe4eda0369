package bookmarks

import "strings"

// ParseTags splits a whitespace separated tag string into names. Empty
// input yields an empty slice. Names keep their case.
func ParseTags(s string) []string {
	fields := strings.Fields(s)
	if fields == nil {
		return []string{}
	}
	return fields
}
