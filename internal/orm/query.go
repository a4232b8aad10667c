package orm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/0ndata/crmbridge/internal/bridge"
)

// Operator is a filter comparison operator understood by the CRM records API.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpGte        Operator = "gte"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
)

type filterClause struct {
	field string
	op    Operator
	value any
}

// Query accumulates filters, a single-field sort, a limit, and a pagination
// cursor, then serializes the whole plan into one GET. A query may be
// re-executed; each Execute repeats the identical request.
type Query struct {
	model           *Model
	filters         []filterClause
	orderField      string
	orderDirection  string
	limitCount      int
	startAfterID    string
	startAfterValue string
}

// Result is one page of records.
type Result struct {
	Records []Record
	HasMore bool
	// NextCursor is the upstream's cursor marker, passed verbatim into a
	// subsequent StartAfter to fetch the following page. Empty when HasMore
	// is false.
	NextCursor string
}

// Where adds a filter clause. Field names are used as given; callers filter
// on CRM field keys.
func (q *Query) Where(field string, op Operator, value any) *Query {
	q.filters = append(q.filters, filterClause{field: field, op: op, value: value})
	return q
}

// Eq is shorthand for Where(field, OpEq, value).
func (q *Query) Eq(field string, value any) *Query {
	return q.Where(field, OpEq, value)
}

// OrderBy sets the sort field and direction ("asc" or "desc"). An empty
// direction defaults to ascending.
func (q *Query) OrderBy(field, direction string) *Query {
	q.orderField = field
	q.orderDirection = direction
	return q
}

// Limit caps the page size.
func (q *Query) Limit(n int) *Query {
	q.limitCount = n
	return q
}

// StartAfter resumes pagination after the given record id. The optional
// value carries the sort-field value of that record when the query is
// ordered.
func (q *Query) StartAfter(id, value string) *Query {
	q.startAfterID = id
	q.startAfterValue = value
	return q
}

// Execute serializes the accumulated plan into query parameters and issues
// one GET through the bridge.
func (q *Query) Execute(ctx context.Context) (*Result, error) {
	m := q.model
	params := map[string]string{"locationId": m.tenantID}

	if q.limitCount > 0 {
		params["limit"] = strconv.Itoa(q.limitCount)
	}
	if q.orderField != "" {
		params["order"] = q.orderField
		dir := q.orderDirection
		if dir == "" {
			dir = "asc"
		}
		params["orderDirection"] = dir
	}
	if q.startAfterID != "" {
		params["startAfterId"] = q.startAfterID
	}
	if q.startAfterValue != "" {
		params["startAfter"] = q.startAfterValue
	}
	for _, f := range q.filters {
		params["filter."+f.field+"."+string(f.op)] = fmt.Sprint(f.value)
	}

	resp, err := m.client.Do(ctx, bridge.Request{
		Method:   "GET",
		Path:     m.collectionPath(),
		Query:    params,
		TenantID: m.tenantID,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("query %s records: status %d: %s", m.schemaKey, resp.Status, resp.Text())
	}

	var out struct {
		Objects []map[string]any `json:"objects"`
		Meta    struct {
			StartAfterID string `json:"startAfterId"`
		} `json:"meta"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("parse %s records response: %w", m.schemaKey, err)
	}

	records := make([]Record, 0, len(out.Objects))
	for _, obj := range out.Objects {
		records = append(records, recordFromObject(obj))
	}
	return &Result{
		Records:    records,
		HasMore:    out.Meta.StartAfterID != "",
		NextCursor: out.Meta.StartAfterID,
	}, nil
}
