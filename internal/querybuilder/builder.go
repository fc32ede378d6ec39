// Package querybuilder provides an in-memory SELECT query AST with a
// deterministic compiler. The AST is independent of any connection:
// compilation emits SQL text plus a bound-parameter map, and parameterized
// output is the default — it is the only mode safe for untrusted input.
package querybuilder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteQuery is returned when a query compiles without a table
// reference.
var ErrIncompleteQuery = errors.New("query has no table reference")

// JoinKind selects the join type emitted for a Join clause.
type JoinKind string

const (
	InnerJoin JoinKind = "INNER"
	LeftJoin  JoinKind = "LEFT"
	RightJoin JoinKind = "RIGHT"
	FullJoin  JoinKind = "FULL"
)

// Direction orders an ORDER BY column.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Logic is the boolean connective joining a filter to the one before it.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// Operator is a comparison operator understood by the compiler.
type Operator string

const (
	Eq        Operator = "="
	Ne        Operator = "!="
	Lt        Operator = "<"
	Le        Operator = "<="
	Gt        Operator = ">"
	Ge        Operator = ">="
	Like      Operator = "LIKE"
	NotLike   Operator = "NOT LIKE"
	In        Operator = "IN"
	NotIn     Operator = "NOT IN"
	Between   Operator = "BETWEEN"
	IsNull    Operator = "IS NULL"
	IsNotNull Operator = "IS NOT NULL"
)

// TableRef names a table, optionally schema-qualified and aliased.
type TableRef struct {
	Name   string
	Alias  string
	Schema string
}

// Column names a projected column, optionally table-qualified, aliased or
// wrapped in an aggregate function.
type Column struct {
	Name      string
	Table     string
	Alias     string
	Aggregate string
}

// Join describes one join clause.
type Join struct {
	Kind        JoinKind
	Table       TableRef
	LeftColumn  string
	RightColumn string
}

// Filter is one predicate. Logic joins it to the preceding filter; the
// first filter's connective is unused.
type Filter struct {
	Column   string
	Operator Operator
	Value    any
	Value2   any
	Values   []any
	Logic    Logic
}

// OrderBy orders the result by one column.
type OrderBy struct {
	Column    string
	Direction Direction
}

// Query is a mutable fluent builder. Builder methods mutate and return the
// same Query; Clone produces a deep copy safe to branch from.
type Query struct {
	table    *TableRef
	columns  []Column
	joins    []Join
	filters  []Filter
	groupBy  []string
	having   []Filter
	orderBy  []OrderBy
	limit    *int
	offset   *int
	distinct bool
}

// New creates an empty query.
func New() *Query {
	return &Query{}
}

// From sets the target table.
func (q *Query) From(name string) *Query {
	q.table = &TableRef{Name: name}
	return q
}

// FromRef sets the target table from a full table reference.
func (q *Query) FromRef(ref TableRef) *Query {
	r := ref
	q.table = &r
	return q
}

// Select appends plain columns to the projection.
func (q *Query) Select(names ...string) *Query {
	for _, n := range names {
		q.columns = append(q.columns, Column{Name: n})
	}
	return q
}

// SelectCol appends one fully specified column to the projection.
func (q *Query) SelectCol(col Column) *Query {
	q.columns = append(q.columns, col)
	return q
}

// Join appends a join clause.
func (q *Query) Join(table, leftCol, rightCol string, kind JoinKind) *Query {
	q.joins = append(q.joins, Join{
		Kind:        kind,
		Table:       TableRef{Name: table},
		LeftColumn:  leftCol,
		RightColumn: rightCol,
	})
	return q
}

// Where appends a predicate joined to the previous one with AND.
func (q *Query) Where(col string, op Operator, value any) *Query {
	q.filters = append(q.filters, Filter{Column: col, Operator: op, Value: value, Logic: And})
	return q
}

// OrWhere appends a predicate joined to the previous one with OR.
func (q *Query) OrWhere(col string, op Operator, value any) *Query {
	q.filters = append(q.filters, Filter{Column: col, Operator: op, Value: value, Logic: Or})
	return q
}

// WhereBetween appends a BETWEEN predicate.
func (q *Query) WhereBetween(col string, low, high any) *Query {
	q.filters = append(q.filters, Filter{Column: col, Operator: Between, Value: low, Value2: high, Logic: And})
	return q
}

// WhereIn appends an IN predicate over the given values.
func (q *Query) WhereIn(col string, values ...any) *Query {
	q.filters = append(q.filters, Filter{Column: col, Operator: In, Values: values, Logic: And})
	return q
}

// WhereNotIn appends a NOT IN predicate over the given values.
func (q *Query) WhereNotIn(col string, values ...any) *Query {
	q.filters = append(q.filters, Filter{Column: col, Operator: NotIn, Values: values, Logic: And})
	return q
}

// WhereNull appends an IS NULL predicate.
func (q *Query) WhereNull(col string) *Query {
	q.filters = append(q.filters, Filter{Column: col, Operator: IsNull, Logic: And})
	return q
}

// WhereNotNull appends an IS NOT NULL predicate.
func (q *Query) WhereNotNull(col string) *Query {
	q.filters = append(q.filters, Filter{Column: col, Operator: IsNotNull, Logic: And})
	return q
}

// GroupBy appends grouping columns.
func (q *Query) GroupBy(cols ...string) *Query {
	q.groupBy = append(q.groupBy, cols...)
	return q
}

// Having appends a HAVING predicate.
func (q *Query) Having(col string, op Operator, value any) *Query {
	q.having = append(q.having, Filter{Column: col, Operator: op, Value: value, Logic: And})
	return q
}

// OrderBy appends an ordering column.
func (q *Query) OrderBy(col string, dir Direction) *Query {
	q.orderBy = append(q.orderBy, OrderBy{Column: col, Direction: dir})
	return q
}

// Limit caps the result row count.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset skips the first n result rows.
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// Distinct marks the projection DISTINCT.
func (q *Query) Distinct() *Query {
	q.distinct = true
	return q
}

// Clone returns a deep, independent copy. Two variant queries derived from
// one base never alias the same filter list.
func (q *Query) Clone() *Query {
	c := &Query{distinct: q.distinct}
	if q.table != nil {
		t := *q.table
		c.table = &t
	}
	c.columns = append([]Column(nil), q.columns...)
	c.joins = append([]Join(nil), q.joins...)
	c.filters = cloneFilters(q.filters)
	c.groupBy = append([]string(nil), q.groupBy...)
	c.having = cloneFilters(q.having)
	c.orderBy = append([]OrderBy(nil), q.orderBy...)
	if q.limit != nil {
		n := *q.limit
		c.limit = &n
	}
	if q.offset != nil {
		n := *q.offset
		c.offset = &n
	}
	return c
}

func cloneFilters(fs []Filter) []Filter {
	out := append([]Filter(nil), fs...)
	for i := range out {
		out[i].Values = append([]any(nil), fs[i].Values...)
	}
	return out
}

func renderTable(t TableRef) string {
	name := t.Name
	if t.Schema != "" {
		name = t.Schema + "." + name
	}
	if t.Alias != "" {
		name += " AS " + t.Alias
	}
	return name
}

func renderColumn(c Column) string {
	name := c.Name
	if c.Table != "" {
		name = c.Table + "." + name
	}
	if c.Aggregate != "" {
		name = strings.ToUpper(c.Aggregate) + "(" + name + ")"
	}
	if c.Alias != "" {
		name += " AS " + c.Alias
	}
	return name
}

// Compiled is the result of compiling a query: SQL text with named
// ":pN" placeholders and the matching bound-parameter map. In inline mode
// Params is empty.
type Compiled struct {
	SQL    string
	Params map[string]any

	order []string
}

// Positional rewrites the named placeholders into driver-positional form
// ("?" for mysql/sqlite, "$n" for postgres) and returns the ordered
// argument list.
func (c Compiled) Positional(dollar bool) (string, []any) {
	sql := c.SQL
	args := make([]any, 0, len(c.order))
	for i, name := range c.order {
		placeholder := "?"
		if dollar {
			placeholder = fmt.Sprintf("$%d", i+1)
		}
		sql = strings.Replace(sql, ":"+name, placeholder, 1)
		args = append(args, c.Params[name])
	}
	return sql, args
}

// compiler accumulates parameters while predicates are rendered.
type compiler struct {
	parameterized bool
	params        map[string]any
	order         []string
}

func (cp *compiler) bind(v any) string {
	if !cp.parameterized {
		return inlineLiteral(v)
	}
	name := fmt.Sprintf("p%d", len(cp.order)+1)
	cp.params[name] = v
	cp.order = append(cp.order, name)
	return ":" + name
}

func (cp *compiler) renderFilter(f Filter) (string, error) {
	switch f.Operator {
	case IsNull, IsNotNull:
		return f.Column + " " + string(f.Operator), nil
	case In, NotIn:
		values := f.Values
		if len(values) == 0 {
			if vs, ok := f.Value.([]any); ok {
				values = vs
			}
		}
		if len(values) == 0 {
			return "", fmt.Errorf("filter on %q: %s requires at least one value", f.Column, f.Operator)
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = cp.bind(v)
		}
		return f.Column + " " + string(f.Operator) + " (" + strings.Join(parts, ", ") + ")", nil
	case Between:
		if f.Value == nil || f.Value2 == nil {
			return "", fmt.Errorf("filter on %q: BETWEEN requires two bounds", f.Column)
		}
		return f.Column + " BETWEEN " + cp.bind(f.Value) + " AND " + cp.bind(f.Value2), nil
	default:
		return f.Column + " " + string(f.Operator) + " " + cp.bind(f.Value), nil
	}
}

// renderPredicate joins filters left-to-right, each by its own boolean
// connective. An unset connective defaults to AND.
func (cp *compiler) renderPredicate(filters []Filter) (string, error) {
	var b strings.Builder
	for i, f := range filters {
		clause, err := cp.renderFilter(f)
		if err != nil {
			return "", err
		}
		if i > 0 {
			logic := f.Logic
			if logic == "" {
				logic = And
			}
			b.WriteString(" " + string(logic) + " ")
		}
		b.WriteString(clause)
	}
	return b.String(), nil
}

// Compile emits the SELECT statement. With parameterized true (the
// default-safe mode) every filter value lands in the parameter map and only
// a placeholder appears in the SQL text. Inline mode embeds escaped
// literals and is intended for export and debugging only.
func (q *Query) Compile(parameterized bool) (Compiled, error) {
	if q.table == nil {
		return Compiled{}, fmt.Errorf("compiling query: %w", ErrIncompleteQuery)
	}

	cp := &compiler{parameterized: parameterized, params: map[string]any{}}

	var b strings.Builder
	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(q.columns) == 0 {
		b.WriteString("*")
	} else {
		parts := make([]string, len(q.columns))
		for i, c := range q.columns {
			parts[i] = renderColumn(c)
		}
		b.WriteString(strings.Join(parts, ", "))
	}

	b.WriteString(" FROM " + renderTable(*q.table))

	for _, j := range q.joins {
		kind := j.Kind
		if kind == "" {
			kind = InnerJoin
		}
		fmt.Fprintf(&b, " %s JOIN %s ON %s = %s",
			kind, renderTable(j.Table), j.LeftColumn, j.RightColumn)
	}

	if len(q.filters) > 0 {
		predicate, err := cp.renderPredicate(q.filters)
		if err != nil {
			return Compiled{}, fmt.Errorf("compiling query: %w", err)
		}
		b.WriteString(" WHERE " + predicate)
	}

	if len(q.groupBy) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(q.groupBy, ", "))
		if len(q.having) > 0 {
			predicate, err := cp.renderPredicate(q.having)
			if err != nil {
				return Compiled{}, fmt.Errorf("compiling query: %w", err)
			}
			b.WriteString(" HAVING " + predicate)
		}
	}

	if len(q.orderBy) > 0 {
		parts := make([]string, len(q.orderBy))
		for i, o := range q.orderBy {
			dir := o.Direction
			if dir == "" {
				dir = Asc
			}
			parts[i] = o.Column + " " + string(dir)
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}

	if q.limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.limit)
	}
	if q.offset != nil {
		fmt.Fprintf(&b, " OFFSET %d", *q.offset)
	}

	return Compiled{SQL: b.String(), Params: cp.params, order: cp.order}, nil
}

// inlineLiteral embeds a value as an escaped SQL literal. Strings have
// their quotes doubled; this path must never execute untrusted predicates.
func inlineLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case []byte:
		return "'" + strings.ReplaceAll(string(t), "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", v)
	}
}
