package repository

import (
	"fmt"
	"strings"
)

// SearchableAccountFields are the columns the free-text search spans.
var SearchableAccountFields = []string{"name", "email", "language", "theme"}

var sortableAccountColumns = map[string]string{
	"name":       "name",
	"email":      "email",
	"tokens":     "tokens",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

const defaultListLimit = 20

// ListFilter captures account listing parameters after the service layer
// has resolved filter semantics.
type ListFilter struct {
	IsVerified   *bool
	IsDeleted    *bool
	ExcludeAdmin bool
	Search       string
	Sort         string
	Page         int
	Limit        int
}

// ListMeta carries pagination metadata alongside a page of results.
type ListMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ListQuery builds the filtered, sorted, paginated SQL for account listings
// plus the matching count query.
type ListQuery struct {
	filter  ListFilter
	clauses []string
	args    []any
}

// NewListQuery prepares a query for the given filter.
func NewListQuery(filter ListFilter) *ListQuery {
	q := &ListQuery{filter: filter, clauses: []string{"1=1"}}
	q.applyFilters()
	return q
}

func (q *ListQuery) applyFilters() {
	if q.filter.IsVerified != nil {
		q.args = append(q.args, *q.filter.IsVerified)
		q.clauses = append(q.clauses, fmt.Sprintf("is_verified=$%d", len(q.args)))
	}
	if q.filter.IsDeleted != nil {
		q.args = append(q.args, *q.filter.IsDeleted)
		q.clauses = append(q.clauses, fmt.Sprintf("is_deleted=$%d", len(q.args)))
	}
	if q.filter.ExcludeAdmin {
		q.clauses = append(q.clauses, "role <> 'admin'")
	}
	if term := strings.TrimSpace(q.filter.Search); term != "" {
		q.args = append(q.args, "%"+strings.ToLower(term)+"%")
		placeholder := fmt.Sprintf("$%d", len(q.args))
		parts := make([]string, len(SearchableAccountFields))
		for i, field := range SearchableAccountFields {
			parts[i] = fmt.Sprintf("LOWER(%s) LIKE %s", field, placeholder)
		}
		q.clauses = append(q.clauses, "("+strings.Join(parts, " OR ")+")")
	}
}

// orderedPublicColumns is the selectable column set. Credential and
// verification columns are intentionally absent.
func orderedPublicColumns() []string {
	return []string{
		"id", "name", "email", "role", "is_verified", "is_deleted",
		"tokens", "language", "theme", "image", "created_at", "updated_at",
	}
}

func (q *ListQuery) orderBy() string {
	sort := strings.TrimSpace(q.filter.Sort)
	desc := strings.HasPrefix(sort, "-")
	sort = strings.TrimPrefix(sort, "-")
	col, ok := sortableAccountColumns[sort]
	if !ok {
		return "created_at DESC"
	}
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}

func (q *ListQuery) limitOffset() (int, int) {
	limit := q.filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	page := q.filter.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// Build returns the page query and its arguments. The full public column
// set is always selected; requested-field projection happens when the
// response is shaped.
func (q *ListQuery) Build() (string, []any) {
	limit, offset := q.limitOffset()
	query := fmt.Sprintf(
		"SELECT %s FROM accounts WHERE %s ORDER BY %s LIMIT %d OFFSET %d",
		strings.Join(orderedPublicColumns(), ", "),
		strings.Join(q.clauses, " AND "),
		q.orderBy(),
		limit,
		offset,
	)
	return query, q.args
}

// BuildCount returns the total-count query over the same filter.
func (q *ListQuery) BuildCount() (string, []any) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM accounts WHERE %s", strings.Join(q.clauses, " AND "))
	return query, q.args
}

// Meta computes pagination metadata for the given total.
func (q *ListQuery) Meta(total int64) *ListMeta {
	limit, _ := q.limitOffset()
	page := q.filter.Page
	if page <= 0 {
		page = 1
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &ListMeta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
