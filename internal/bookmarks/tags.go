package bookmarks

import (
	"database/sql"
	"encoding/json"
	"strings"
)

// NormalizeTag lowercases tag and joins internal whitespace with dashes.
func NormalizeTag(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), "-")
}

// NormalizeTags normalizes every tag, dropping empty ones and duplicates.
// The result is never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		norm := NormalizeTag(tag)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// ParseTagList splits a comma or whitespace separated tag string.
func ParseTagList(s string) []string {
	return NormalizeTags(strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}))
}

// EncodeTags serializes tags as a JSON array.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeTags reads a stored tag column. NULL, empty text, malformed JSON and
// the legacy [""] all decode to an empty slice.
func DecodeTags(raw sql.NullString) []string {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return []string{}
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return []string{}
	}

	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if strings.TrimSpace(tag) != "" {
			out = append(out, tag)
		}
	}
	return out
}
