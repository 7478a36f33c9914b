package node

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/schema"
	"github.com/juehai/sitebase/internal/store"
)

// testRegistry wires a small host/rack configuration: hosts reference
// racks, and the host cache pulls a template defined on the rack manifest.
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	fields := map[string]*schema.FieldDefinition{
		"name":     {Name: "name", NotNull: true, Unique: true},
		"location": {Name: "location", Decorators: []string{"lower"}},
		"serial":   {Name: "serial", Regex: regexp.MustCompile(`^[A-Z]{2}\d{4}$`)},
		"rack":     {Name: "rack", Reference: []string{"rack"}},
	}
	manifests := map[string]*schema.ManifestDefinition{
		"host": {
			Name:       "host",
			CNTemplate: "%(name)s.%(location)s",
			Fields:     []string{"name", "location", "serial", "rack"},
		},
		"rack": {Name: "rack", CNTemplate: "%(name)s", Fields: []string{"name"}},
	}
	cache := map[string]map[string]string{
		"host": {
			"fqdn":       "%{name}.%{location}.example.com",
			"rack_label": "%{rack.label}",
		},
		"rack": {"label": "%{name}-r"},
	}
	registry, err := schema.New(fields, manifests, cache)
	require.NoError(t, err)
	return registry
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewWithDB(db, zap.NewNop())
	return New(testRegistry(t), st, zap.NewNop()), mock
}

const hostValueJSON = `{"location":"tpe","name":"web-01","rack":"@7","serial":"AB1234"}`

func expectHostRow(mock sqlmock.Sqlmock, value string) {
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM nodes WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manifest", "cn", "value"}).
			AddRow(42, "host", "web-01.tpe", value))
}

func expectRackRow(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM nodes WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manifest", "cn", "value"}).
			AddRow(7, "rack", "tpe-1", `{"name":"tpe-1"}`))
}

func TestValidateAndMapCreate(t *testing.T) {
	e, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT count\(1\) FROM nodes WHERE manifest = \$1`).
		WithArgs("host", "name", "web-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT id FROM nodes WHERE manifest = ANY`).
		WithArgs(`{"rack"}`, "tpe-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	relation, err := e.validateAndMap(context.Background(), 0, "host", map[string]any{
		"name":     "web-01",
		"location": "TPE",
		"serial":   "AB1234",
		"rack":     "TPE-1",
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "web-01.tpe", relation.CN)
	assert.Equal(t, "@7", relation.Value["rack"])
	assert.Equal(t, "tpe-1", relation.Display["rack"])
	assert.Equal(t, "tpe", relation.Value["location"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateAndMapCollectsAllFailures(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.validateAndMap(context.Background(), 0, "host", map[string]any{
		"name":   "",
		"serial": "bogus",
	}, true)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 2)
	assert.IsType(t, &NullValueError{}, verr.Errors[0])
	assert.IsType(t, &RegexMatchError{}, verr.Errors[1])
}

func TestValidateAndMapRejectsNonString(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.validateAndMap(context.Background(), 0, "host", map[string]any{
		"location": 5,
	}, false)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)

	terr, ok := verr.Errors[0].(*ValueTypeError)
	require.True(t, ok)
	assert.Equal(t, "location", terr.Field)
}

func TestValidateAndMapUnknownManifest(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.validateAndMap(context.Background(), 0, "switch", nil, true)
	var merr *ManifestNotFound
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "switch", merr.Manifest)
}

func TestValidateAndMapReferenceNotFound(t *testing.T) {
	e, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT count\(1\) FROM nodes WHERE manifest = \$1`).
		WithArgs("host", "name", "web-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT id FROM nodes WHERE manifest = ANY`).
		WithArgs(`{"rack"}`, "nowhere").
		WillReturnError(sql.ErrNoRows)

	_, err := e.validateAndMap(context.Background(), 0, "host", map[string]any{
		"name": "web-01",
		"rack": "nowhere",
	}, true)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)

	rerr, ok := verr.Errors[0].(*ReferenceNotFound)
	require.True(t, ok)
	assert.Equal(t, "rack", rerr.Field)
	assert.Equal(t, "nowhere", rerr.Value)
}

func TestValidateAndMapDuplicateValue(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery(`SELECT count\(1\) FROM nodes WHERE manifest = \$1`).
		WithArgs("host", "name", "web-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := e.validateAndMap(context.Background(), 0, "host", map[string]any{
		"name": "web-01",
	}, true)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.IsType(t, &UniqueValueError{}, verr.Errors[0])
}

func TestSelectFlat(t *testing.T) {
	e, mock := newTestEngine(t)

	expectHostRow(mock, hostValueJSON)

	result, err := e.Select(context.Background(), 42, false)
	require.NoError(t, err)

	assert.Equal(t, "42", result[".id"])
	assert.Equal(t, "host", result[".manifest"])
	assert.Equal(t, "web-01.tpe", result[".cn"])
	assert.Equal(t, "@7", result["rack"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectCascade(t *testing.T) {
	e, mock := newTestEngine(t)

	expectHostRow(mock, hostValueJSON)
	expectRackRow(mock)

	result, err := e.Select(context.Background(), 42, true)
	require.NoError(t, err)

	nested, ok := result["rack"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tpe-1", nested[".cn"])
	assert.Equal(t, "tpe-1", nested["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectCascadeDanglingReference(t *testing.T) {
	e, mock := newTestEngine(t)

	expectHostRow(mock, hostValueJSON)
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM nodes WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	result, err := e.Select(context.Background(), 42, true)
	require.NoError(t, err)

	// a reference to a vanished node renders as an empty subtree
	assert.Equal(t, map[string]any{}, result["rack"])
}

func TestSelectCascadeCorruptPointer(t *testing.T) {
	e, mock := newTestEngine(t)

	expectHostRow(mock, `{"name":"web-01","rack":"tpe-1"}`)

	_, err := e.Select(context.Background(), 42, true)
	var derr *DataIntegrityError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, int64(42), derr.ID)
	assert.Equal(t, "rack", derr.Field)
}

func TestSelectNotFound(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM nodes WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := e.Select(context.Background(), 9, false)
	var nerr *NodeNotFound
	require.ErrorAs(t, err, &nerr)
}

func TestGetCacheHit(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM node_cache`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manifest", "cn", "value"}).
			AddRow(42, "host", "web-01.tpe", `{"fqdn":"web-01.tpe.example.com"}`))
	mock.ExpectCommit()

	result, err := e.GetCache(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "42", result[".id"])
	assert.Equal(t, "web-01.tpe.example.com", result["fqdn"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCacheBuildsOnMiss(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM node_cache`).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	expectHostRow(mock, hostValueJSON)
	expectRackRow(mock)

	mock.ExpectExec(`DELETE FROM node_cache`).
		WithArgs("{42}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO node_cache`).
		WithArgs(int64(42), "host", "web-01.tpe",
			`{"fqdn":"web-01.tpe.example.com","rack_label":"tpe-1-r"}`, "{7}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE nodes SET depends`).
		WithArgs("{7}", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM node_cache`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manifest", "cn", "value"}).
			AddRow(42, "host", "web-01.tpe",
				`{"fqdn":"web-01.tpe.example.com","rack_label":"tpe-1-r"}`))
	mock.ExpectCommit()

	result, err := e.GetCache(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "tpe-1-r", result["rack_label"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCacheMissingNode(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM node_cache`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM nodes WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id, manifest, cn, value::text FROM node_cache`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := e.GetCache(context.Background(), 9)
	var nerr *NodeNotFound
	require.ErrorAs(t, err, &nerr)
}

func TestDeleteRefusedWhileReferenced(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, manifest, cn, depends::text FROM nodes`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manifest", "cn", "depends"}).
			AddRow(7, "rack", "tpe-1", "{}"))
	mock.ExpectQuery(`SELECT id FROM nodes WHERE manifest = ANY\(\$1::text\[\]\) AND value->>\$2`).
		WithArgs(`{"host"}`, "rack", "@7").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42).AddRow(43))
	mock.ExpectRollback()

	_, err := e.Delete(context.Background(), 7, false)
	var ierr *NodeInUseError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, []int64{42, 43}, ierr.Referers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCascadeRemovesReferers(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, manifest, cn, depends::text FROM nodes`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manifest", "cn", "depends"}).
			AddRow(7, "rack", "tpe-1", "{}"))
	mock.ExpectQuery(`SELECT id FROM nodes WHERE manifest = ANY\(\$1::text\[\]\) AND value->>\$2`).
		WithArgs(`{"host"}`, "rack", "@7").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectExec(`DELETE FROM node_cache`).
		WithArgs("{7,42}").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM nodes`).
		WithArgs("{7,42}").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	result, err := e.Delete(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnreferencedNode(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, manifest, cn, depends::text FROM nodes`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manifest", "cn", "depends"}).
			AddRow(42, "host", "web-01.tpe", "{7}"))
	mock.ExpectExec(`DELETE FROM node_cache`).
		WithArgs("{42}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM nodes`).
		WithArgs("{42}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := e.Delete(context.Background(), 42, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Affected)
}

func TestDeleteMissingNode(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, manifest, cn, depends::text FROM nodes`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := e.Delete(context.Background(), 9, false)
	var nerr *NodeNotFound
	require.ErrorAs(t, err, &nerr)
}
