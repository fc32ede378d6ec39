package querybuilder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qb "github.com/leadforge/dbadmin/internal/querybuilder"
)

func TestCompile_NoTableFails(t *testing.T) {
	_, err := qb.New().Select("id").Compile(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, qb.ErrIncompleteQuery)
}

func TestCompile_MinimalSelect(t *testing.T) {
	c, err := qb.New().From("users").Compile(true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users", c.SQL)
	assert.Empty(t, c.Params)
}

func TestCompile_FullClauseOrder(t *testing.T) {
	c, err := qb.New().
		Select("u.id", "u.name").
		SelectCol(qb.Column{Name: "id", Table: "o", Aggregate: "count", Alias: "order_count"}).
		FromRef(qb.TableRef{Name: "users", Alias: "u"}).
		Join("orders", "u.id", "orders.user_id", qb.LeftJoin).
		Where("u.active", qb.Eq, true).
		GroupBy("u.id", "u.name").
		Having("order_count", qb.Gt, 5).
		OrderBy("u.name", qb.Asc).
		Limit(10).
		Offset(20).
		Compile(true)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT u.id, u.name, COUNT(o.id) AS order_count "+
			"FROM users AS u "+
			"LEFT JOIN orders ON u.id = orders.user_id "+
			"WHERE u.active = :p1 "+
			"GROUP BY u.id, u.name HAVING order_count > :p2 "+
			"ORDER BY u.name ASC LIMIT 10 OFFSET 20",
		c.SQL)
	assert.Equal(t, true, c.Params["p1"])
	assert.Equal(t, 5, c.Params["p2"])
}

func TestCompile_Distinct(t *testing.T) {
	c, err := qb.New().Distinct().Select("country").From("users").Compile(true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT DISTINCT country FROM users", c.SQL)
}

func TestCompile_ParameterizedNeverEmbedsLiterals(t *testing.T) {
	adversarial := `'; DROP TABLE x; --`

	build := func(value string) qb.Compiled {
		c, err := qb.New().From("users").Where("name", qb.Eq, value).Compile(true)
		require.NoError(t, err)
		return c
	}

	benign := build("alice")
	hostile := build(adversarial)

	// The SQL text is identical regardless of value content; the value
	// only ever appears in the parameter map.
	assert.Equal(t, benign.SQL, hostile.SQL)
	assert.NotContains(t, hostile.SQL, "DROP TABLE")
	assert.Equal(t, adversarial, hostile.Params["p1"])
}

func TestCompile_InlineEscapesQuotes(t *testing.T) {
	c, err := qb.New().From("users").Where("name", qb.Eq, "o'brien").Compile(false)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE name = 'o''brien'", c.SQL)
	assert.Empty(t, c.Params)
}

func TestCompile_InOperator(t *testing.T) {
	c, err := qb.New().From("users").WhereIn("id", 1, 2, 3).Compile(true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE id IN (:p1, :p2, :p3)", c.SQL)
	assert.Len(t, c.Params, 3)

	_, err = qb.New().From("users").WhereIn("id").Compile(true)
	assert.Error(t, err)
}

func TestCompile_NotInOperator(t *testing.T) {
	c, err := qb.New().From("users").WhereNotIn("status", "banned", "deleted").Compile(true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE status NOT IN (:p1, :p2)", c.SQL)
}

func TestCompile_Between(t *testing.T) {
	c, err := qb.New().From("orders").WhereBetween("total", 10, 100).Compile(true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE total BETWEEN :p1 AND :p2", c.SQL)
	assert.Equal(t, 10, c.Params["p1"])
	assert.Equal(t, 100, c.Params["p2"])

	_, err = qb.New().From("orders").
		WhereBetween("total", nil, 100).
		Compile(true)
	assert.Error(t, err)
}

func TestCompile_NullOperators(t *testing.T) {
	c, err := qb.New().From("users").
		WhereNull("deleted_at").
		WhereNotNull("email").
		Compile(true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE deleted_at IS NULL AND email IS NOT NULL", c.SQL)
	assert.Empty(t, c.Params)
}

func TestCompile_PerFilterBooleanLogic(t *testing.T) {
	// Each filter after the first is joined by its own connective.
	c, err := qb.New().From("users").
		Where("active", qb.Eq, true).
		OrWhere("role", qb.Eq, "admin").
		Where("deleted_at", qb.IsNull, nil).
		Compile(true)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM users WHERE active = :p1 OR role = :p2 AND deleted_at IS NULL",
		c.SQL)
}

func TestPositional_QuestionStyle(t *testing.T) {
	c, err := qb.New().From("users").
		Where("name", qb.Eq, "ada").
		Where("age", qb.Gt, 30).
		Compile(true)
	require.NoError(t, err)

	sql, args := c.Positional(false)
	assert.Equal(t, "SELECT * FROM users WHERE name = ? AND age > ?", sql)
	assert.Equal(t, []any{"ada", 30}, args)
}

func TestPositional_DollarStyle(t *testing.T) {
	c, err := qb.New().From("users").
		WhereIn("id", 1, 2).
		Where("active", qb.Eq, true).
		Compile(true)
	require.NoError(t, err)

	sql, args := c.Positional(true)
	assert.Equal(t, "SELECT * FROM users WHERE id IN ($1, $2) AND active = $3", sql)
	assert.Equal(t, []any{1, 2, true}, args)
}

func TestClone_IndependentCopies(t *testing.T) {
	base := qb.New().From("users").Where("active", qb.Eq, true)

	variant := base.Clone().Where("role", qb.Eq, "admin").Limit(5)

	baseSQL, err := base.Compile(true)
	require.NoError(t, err)
	variantSQL, err := variant.Compile(true)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM users WHERE active = :p1", baseSQL.SQL)
	assert.Equal(t, "SELECT * FROM users WHERE active = :p1 AND role = :p2 LIMIT 5", variantSQL.SQL)
}

func TestCompile_Deterministic(t *testing.T) {
	q := qb.New().From("events").
		Where("kind", qb.Eq, "click").
		WhereBetween("ts", 1, 2).
		OrderBy("ts", qb.Desc)

	first, err := q.Compile(true)
	require.NoError(t, err)
	second, err := q.Compile(true)
	require.NoError(t, err)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Params, second.Params)
}
