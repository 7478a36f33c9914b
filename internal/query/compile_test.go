package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, q string) *Predicate {
	t.Helper()
	pred, err := CompileQuery(q)
	require.NoError(t, err)
	return pred
}

func TestCompileValueEquality(t *testing.T) {
	pred := compile(t, "status == 'active'")
	assert.Equal(t, "lower(value->>$1) = lower($2)", pred.SQL)
	assert.Equal(t, []any{"status", "active"}, pred.Args)
}

func TestCompileValueExactOperators(t *testing.T) {
	pred := compile(t, "status === Active")
	assert.Equal(t, "value->>$1 = $2", pred.SQL)
	assert.Equal(t, []any{"status", "Active"}, pred.Args)

	pred = compile(t, "status !== Active")
	assert.Equal(t, "value->>$1 != $2", pred.SQL)

	pred = compile(t, "status != active")
	assert.Equal(t, "lower(value->>$1) != lower($2)", pred.SQL)
}

func TestCompileValueSubstring(t *testing.T) {
	pred := compile(t, "dns_ip ~ 10.232")
	assert.Equal(t, "value->>$1 ILIKE $2", pred.SQL)
	assert.Equal(t, []any{"dns_ip", "%10.232%"}, pred.Args)

	pred = compile(t, "dns_ip !~ 10.232")
	assert.Equal(t, "value->>$1 NOT ILIKE $2", pred.SQL)
}

func TestCompileValueSubstringEscapesPattern(t *testing.T) {
	pred := compile(t, "note ~ '50%_done'")
	assert.Equal(t, []any{"note", `%50\%\_done%`}, pred.Args)
}

func TestCompileValuePrefix(t *testing.T) {
	pred := compile(t, "name ^ web")
	assert.Equal(t, "lower(value->>$1) LIKE lower($2)", pred.SQL)
	assert.Equal(t, []any{"name", "web%"}, pred.Args)
}

func TestCompileValueIn(t *testing.T) {
	pred := compile(t, "status in new, open,closed")
	assert.Equal(t, "lower(value->>$1) IN (lower($2), lower($3), lower($4))", pred.SQL)
	assert.Equal(t, []any{"status", "new", "open", "closed"}, pred.Args)
}

func TestCompileValueRelational(t *testing.T) {
	pred := compile(t, "weight >= 10")
	assert.Equal(t, "value->>$1 >= $2", pred.SQL)
	assert.Equal(t, []any{"weight", "10"}, pred.Args)
}

func TestCompileManifestOperators(t *testing.T) {
	pred := compile(t, "manifest == host")
	assert.Equal(t, "lower(manifest) = lower($1)", pred.SQL)
	assert.Equal(t, []any{"host"}, pred.Args)

	pred = compile(t, "MANIFEST === host")
	assert.Equal(t, "manifest = $1", pred.SQL)

	pred = compile(t, "cn ^ web-")
	assert.Equal(t, "lower(cn) LIKE lower($1)", pred.SQL)
	assert.Equal(t, []any{"web-%"}, pred.Args)

	pred = compile(t, "manifest in rack,host")
	assert.Equal(t, "lower(manifest) IN (lower($1), lower($2))", pred.SQL)
	assert.Equal(t, []any{"rack", "host"}, pred.Args)

	pred = compile(t, "cn ~ web")
	assert.Equal(t, "cn ILIKE $1", pred.SQL)
	assert.Equal(t, []any{"%web%"}, pred.Args)
}

func TestCompileIDOperators(t *testing.T) {
	pred := compile(t, "id == 3")
	assert.Equal(t, "id = $1", pred.SQL)
	assert.Equal(t, []any{int64(3)}, pred.Args)

	pred = compile(t, "id === 3")
	assert.Equal(t, "id = $1", pred.SQL)

	pred = compile(t, "id !== 3")
	assert.Equal(t, "id != $1", pred.SQL)

	pred = compile(t, "id in 1,2,3")
	assert.Equal(t, "id IN ($1, $2, $3)", pred.SQL)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, pred.Args)

	pred = compile(t, "id < 100")
	assert.Equal(t, "id < $1", pred.SQL)
	assert.Equal(t, []any{int64(100)}, pred.Args)
}

func TestCompileIDRejectsNonInteger(t *testing.T) {
	_, err := CompileQuery("id == abc")
	var ge *GrammarError
	require.ErrorAs(t, err, &ge)
	assert.Contains(t, ge.Message, "integer")
}

func TestCompileLogicJoin(t *testing.T) {
	pred := compile(t, "a == 1 and b == 2")
	assert.Equal(t,
		"(lower(value->>$1) = lower($2) AND lower(value->>$3) = lower($4))",
		pred.SQL)
	assert.Equal(t, []any{"a", "1", "b", "2"}, pred.Args)
}

func TestCompileNestedLogic(t *testing.T) {
	pred := compile(t, "dns_ip ~ 10.232 or (dns_ip ~ 10.254. and manifest in rack_server)")
	assert.Equal(t,
		"(value->>$1 ILIKE $2 OR (value->>$3 ILIKE $4 AND lower(manifest) IN (lower($5))))",
		pred.SQL)
	assert.Equal(t,
		[]any{"dns_ip", "%10.232%", "dns_ip", "%10.254.%", "rack_server"},
		pred.Args)
}

func TestCompileSingleTokenQueryFails(t *testing.T) {
	_, err := CompileQuery("orphan")
	var ge *GrammarError
	require.ErrorAs(t, err, &ge)
	assert.Contains(t, ge.Message, "incomplete search query")
}

func TestCompileEmptyQueryFails(t *testing.T) {
	err := CheckSyntax("")
	var ge *GrammarError
	require.ErrorAs(t, err, &ge)
}

func TestCompileLogicOverBareValuesFails(t *testing.T) {
	_, err := CompileQuery("a AND b")
	var ge *GrammarError
	require.ErrorAs(t, err, &ge)
}

func TestCompileMissingOperandFails(t *testing.T) {
	_, err := CompileQuery("== 'active'")
	var ge *GrammarError
	require.ErrorAs(t, err, &ge)
	assert.Contains(t, ge.Message, "missing operand")
}

func TestCompileQuotedLogicWordIsValue(t *testing.T) {
	pred := compile(t, "m == 'AND'")
	assert.Equal(t, "lower(value->>$1) = lower($2)", pred.SQL)
	assert.Equal(t, []any{"m", "AND"}, pred.Args)
}

func TestCheckSyntaxAcceptsComplexQuery(t *testing.T) {
	err := CheckSyntax("k ^ 'count(0)' AND (m == 'AND' and a == '' and b == ' ') " +
		"and c === 3 and d !== 4 and f != 5 and g == 8 and h ~ 9 and i !~ 10 " +
		"and j < 11 and k <= 12 and l > 13 and m >= 14")
	assert.NoError(t, err)
}
