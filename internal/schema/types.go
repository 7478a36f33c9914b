// Package schema holds the static declarations a sitebase instance is
// configured with: field definitions, manifest definitions and cache
// templates. The declarations are loaded once at startup and are read-only
// afterwards.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// cnPattern matches %(field)s placeholders in a canonical-name template.
var cnPattern = regexp.MustCompile(`%\(([a-zA-Z0-9_.-]+)\)s`)

// FieldDefinition describes a single named field that manifests may include.
type FieldDefinition struct {
	Name       string
	NotNull    bool
	Unique     bool
	Regex      *regexp.Regexp
	Reference  []string // target manifests a value may point into
	Decorators []string // ordered value transforms, applied before validation
}

// IsReference reports whether values of this field point at other nodes.
func (f *FieldDefinition) IsReference() bool {
	return len(f.Reference) > 0
}

// Decorate applies the field's decorators to a submitted value, in order.
// Unknown decorator names are ignored.
func (f *FieldDefinition) Decorate(value string) string {
	for _, d := range f.Decorators {
		switch d {
		case "lower":
			value = strings.ToLower(value)
		case "upper":
			value = strings.ToUpper(value)
		}
	}
	return value
}

// ManifestDefinition describes a typed collection of nodes.
type ManifestDefinition struct {
	Name       string
	CNTemplate string
	Fields     []string
}

// CN computes the canonical name for the given effective field values by
// substituting the manifest's template and case-folding the result. Fields
// missing from the mapping substitute as empty strings.
func (m *ManifestDefinition) CN(values map[string]string) string {
	cn := cnPattern.ReplaceAllStringFunc(m.CNTemplate, func(match string) string {
		field := cnPattern.FindStringSubmatch(match)[1]
		return values[field]
	})
	return strings.ToLower(cn)
}

// Backref records, for a referenced manifest, which field points at it and
// which manifests carry that field. It is derived by inverting all
// reference fields across the configuration.
type Backref struct {
	Field    string
	Referers []string
}

func (b *Backref) String() string {
	return fmt.Sprintf("via %s from %s", b.Field, strings.Join(b.Referers, ","))
}
