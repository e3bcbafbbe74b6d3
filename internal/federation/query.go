// Package federation answers catalog queries over the primary store and any
// number of attached read-only secondary stores.
package federation

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects the filter and sort of a Query.
type Kind string

const (
	KindNewest   Kind = "newest"
	KindOldest   Kind = "oldest"
	KindUntagged Kind = "untagged"
	KindTag      Kind = "tag"
	KindSearch   Kind = "search"
	KindRandom   Kind = "random"
)

// ErrInvalidQuery is returned for queries that cannot be planned.
var ErrInvalidQuery = errors.New("invalid query")

// ParseKind maps a user supplied kind name. Empty means newest.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindNewest, nil
	case KindNewest, KindOldest, KindUntagged, KindTag, KindSearch, KindRandom:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, s)
	}
}

// Query is a catalog request. PerPage 0 returns every match.
type Query struct {
	Kind    Kind
	Tag     string
	Search  string
	Page    int
	PerPage int
}

// Validate checks that the query carries what its kind needs.
func (q Query) Validate() error {
	switch q.Kind {
	case "", KindNewest, KindOldest, KindUntagged, KindRandom:
	case KindTag:
		if strings.TrimSpace(q.Tag) == "" {
			return fmt.Errorf("%w: tag query without a tag", ErrInvalidQuery)
		}
	case KindSearch:
		if strings.TrimSpace(q.Search) == "" {
			return fmt.Errorf("%w: search query without terms", ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, q.Kind)
	}

	if q.PerPage < 0 || q.Page < 0 {
		return fmt.Errorf("%w: negative paging", ErrInvalidQuery)
	}
	return nil
}

func (q Query) limitOffset() (limit, offset int, paged bool) {
	if q.PerPage <= 0 {
		return 0, 0, false
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	return q.PerPage, (page - 1) * q.PerPage, true
}
