package federation

import (
	"fmt"
	"strings"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
)

// NamespaceSpan is the id range reserved for each attached source. Secondary
// ids at or above it would spill into the next source's range.
const NamespaceSpan = 1_000_000

// NamespaceOffset is added to the ids of the k-th attached source.
func NamespaceOffset(maxPrimaryID int64, k int) int64 {
	return maxPrimaryID + 1 + int64(k)*NamespaceSpan
}

// planSource is one store taking part in a query.
type planSource struct {
	schema  string
	source  bookmarks.Source
	offset  int64
	columns map[string]bool // nil means every column exists
}

func (ps planSource) column(name string) string {
	if ps.columns != nil && !ps.columns[name] {
		return "NULL"
	}
	return "b." + name
}

type sortKey struct {
	column string
	desc   bool
}

func (k sortKey) String() string {
	if k.desc {
		return k.column + " DESC"
	}
	return k.column + " ASC"
}

type filter struct {
	kind   Kind
	tag    string
	search string
}

// Plan is the intermediate form of a Query, rendered to SQL with bound parameters.
type Plan struct {
	sources []planSource
	filter  filter
	sort    []sortKey
	random  bool
	limit   int
	offset  int
	paged   bool
}

func newPlan(q Query, sources []planSource) Plan {
	kind := q.Kind
	if kind == "" {
		kind = KindNewest
	}

	p := Plan{
		sources: sources,
		filter: filter{
			kind:   kind,
			tag:    bookmarks.NormalizeTag(q.Tag),
			search: strings.TrimSpace(q.Search),
		},
	}
	p.limit, p.offset, p.paged = q.limitOffset()

	switch kind {
	case KindOldest:
		p.sort = []sortKey{{"created_at", false}, {"updated_at", false}, {"id", false}}
	case KindTag:
		p.sort = []sortKey{{"updated_at", true}, {"created_at", true}, {"id", true}}
	case KindRandom:
		p.random = true
	default:
		p.sort = []sortKey{{"created_at", true}, {"updated_at", true}, {"id", true}}
	}

	return p
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func (f filter) render(ps planSource, args *[]any) string {
	switch f.kind {
	case KindUntagged:
		return bookmarks.UntaggedCondition(ps.column("tags"))

	case KindTag:
		*args = append(*args, f.tag)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS j WHERE j.value = ?)", bookmarks.TagValuesSource(ps.column("tags")))

	case KindSearch:
		var terms []string
		pattern := escapeLike(f.search)
		for _, col := range []string{"title", "url", "description", "tags"} {
			expr := ps.column(col)
			if expr == "NULL" {
				continue
			}
			terms = append(terms, expr+` LIKE ? ESCAPE '\'`)
			*args = append(*args, pattern)
		}
		return "(" + strings.Join(terms, " OR ") + ")"
	}

	return ""
}

func (ps planSource) render(f filter, args *[]any) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")

	for i, col := range bookmarks.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		expr := ps.column(col)
		if col == "id" && ps.source == bookmarks.SourceFederated {
			expr = "b.id + ?"
			*args = append(*args, ps.offset)
		}
		fmt.Fprintf(&sb, "%s AS %s", expr, col)
	}

	fmt.Fprintf(&sb, ", '%s' AS source FROM %q.%s AS b", ps.source, ps.schema, bookmarks.Table)

	if where := f.render(ps, args); where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	return sb.String()
}

func (p Plan) union(args *[]any) string {
	parts := make([]string, 0, len(p.sources))
	for _, ps := range p.sources {
		parts = append(parts, ps.render(p.filter, args))
	}
	return strings.Join(parts, "\nUNION ALL\n")
}

// SQL renders the plan as one statement over the union of all sources.
// Sorting and paging apply to the union, never per source.
func (p Plan) SQL() (string, []any) {
	var args []any
	union := p.union(&args)

	keys := make([]string, len(p.sort))
	for i, k := range p.sort {
		keys[i] = k.String()
	}
	if p.random {
		keys = []string{"RANDOM()"}
	}

	query := fmt.Sprintf("SELECT %s, source FROM (\n%s\n) ORDER BY %s",
		strings.Join(bookmarks.Columns, ", "), union, strings.Join(keys, ", "))

	if p.paged {
		query += " LIMIT ? OFFSET ?"
		args = append(args, p.limit, p.offset)
	}

	return query, args
}

// CountSQL renders a statement counting every row of the union.
func (p Plan) CountSQL() (string, []any) {
	var args []any
	return fmt.Sprintf("SELECT COUNT(*) FROM (\n%s\n)", p.union(&args)), args
}
