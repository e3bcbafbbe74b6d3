package bookmarks

import (
	"context"
	"fmt"
)

// TagOrder selects how UniqueTags sorts.
type TagOrder string

const (
	TagsByFrequency TagOrder = "frequency"
	TagsByNewest    TagOrder = "newest"
)

// ParseTagOrder maps a user supplied order name, defaulting to frequency.
func ParseTagOrder(s string) (TagOrder, error) {
	switch TagOrder(s) {
	case "", TagsByFrequency:
		return TagsByFrequency, nil
	case TagsByNewest:
		return TagsByNewest, nil
	default:
		return "", fmt.Errorf("unknown tag order %q", s)
	}
}

// TagCount is one tag and how it is used.
type TagCount struct {
	Name     string
	Count    int
	LastUsed string
}

// UniqueTags lists every tag in use in the primary store.
func (s *Store) UniqueTags(ctx context.Context, order TagOrder) ([]TagCount, error) {
	orderBy := "uses DESC, tag ASC"
	if order == TagsByNewest {
		orderBy = "last_used DESC, tag ASC"
	}

	query := fmt.Sprintf(`
		SELECT j.value AS tag, COUNT(*) AS uses, COALESCE(MAX(b.updated_at), '') AS last_used
		FROM bookmarks AS b, %s AS j
		WHERE j.type = 'text' AND TRIM(j.value) <> ''
		GROUP BY j.value
		ORDER BY %s`, TagValuesSource("b.tags"), orderBy)

	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Name, &tc.Count, &tc.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tc)
	}
	return tags, rows.Err()
}
