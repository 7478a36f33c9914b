package schema

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFields() map[string]*FieldDefinition {
	return map[string]*FieldDefinition{
		"name": {
			Name:    "name",
			NotNull: true,
			Unique:  true,
			Regex:   regexp.MustCompile(`^[a-z0-9-]+$`),
		},
		"rack": {
			Name:      "rack",
			Reference: []string{"rack"},
		},
		"location": {
			Name:       "location",
			Decorators: []string{"lower"},
		},
	}
}

func testManifests() map[string]*ManifestDefinition {
	return map[string]*ManifestDefinition{
		"host": {
			Name:       "host",
			CNTemplate: "%(name)s",
			Fields:     []string{"name", "rack"},
		},
		"rack": {
			Name:       "rack",
			CNTemplate: "%(name)s",
			Fields:     []string{"name", "location"},
		},
	}
}

func TestNewBuildsBackref(t *testing.T) {
	r, err := New(testFields(), testManifests(), nil)
	require.NoError(t, err)

	ref, ok := r.Backref("rack")
	require.True(t, ok)
	assert.Equal(t, "rack", ref.Field)
	assert.Equal(t, []string{"host"}, ref.Referers)

	_, ok = r.Backref("host")
	assert.False(t, ok, "nothing references host")
}

func TestNewRejectsUndefinedField(t *testing.T) {
	manifests := testManifests()
	manifests["host"].Fields = append(manifests["host"].Fields, "missing")

	_, err := New(testFields(), manifests, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined field missing")
}

func TestNewRejectsUndefinedReferenceTarget(t *testing.T) {
	fields := testFields()
	fields["rack"].Reference = []string{"warehouse"}

	_, err := New(fields, testManifests(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined manifest warehouse")
}

func TestNewRejectsEmptyCNTemplate(t *testing.T) {
	manifests := testManifests()
	manifests["rack"].CNTemplate = ""

	_, err := New(testFields(), manifests, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cn template")
}

func TestNewRejectsCacheForUnknownManifest(t *testing.T) {
	cache := map[string]map[string]string{
		"switch": {"title": "%{name}"},
	}

	_, err := New(testFields(), testManifests(), cache)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined manifest switch")
}

func TestCNSubstitution(t *testing.T) {
	m := &ManifestDefinition{CNTemplate: "%(name)s.%(location)s"}

	cn := m.CN(map[string]string{"name": "Web-01", "location": "TPE"})
	assert.Equal(t, "web-01.tpe", cn)

	// missing fields substitute as empty
	cn = m.CN(map[string]string{"name": "web-01"})
	assert.Equal(t, "web-01.", cn)
}

func TestDecorate(t *testing.T) {
	f := &FieldDefinition{Decorators: []string{"lower"}}
	assert.Equal(t, "abc", f.Decorate("AbC"))

	f = &FieldDefinition{Decorators: []string{"upper"}}
	assert.Equal(t, "ABC", f.Decorate("AbC"))

	f = &FieldDefinition{Decorators: []string{"reverse"}}
	assert.Equal(t, "AbC", f.Decorate("AbC"), "unknown decorators are ignored")

	f = &FieldDefinition{}
	assert.Equal(t, "AbC", f.Decorate("AbC"))
}

func TestCacheTemplatesDefaultEmpty(t *testing.T) {
	r, err := New(testFields(), testManifests(), nil)
	require.NoError(t, err)
	assert.Empty(t, r.CacheTemplates("host"))
}
