package schema

import (
	"fmt"
	"sort"
)

// Registry is the validated, immutable view of the configured schema. It is
// built once at startup and shared across all operations without locking.
type Registry struct {
	fields    map[string]*FieldDefinition
	manifests map[string]*ManifestDefinition
	cache     map[string]map[string]string
	backref   map[string]*Backref
}

// New validates the loaded declarations and derives the backref index.
// Construction fails if a manifest names an undefined field, if a field's
// reference list names an undefined manifest, if a manifest has an empty
// canonical-name template, or if a cache template set targets an unknown
// manifest.
func New(
	fields map[string]*FieldDefinition,
	manifests map[string]*ManifestDefinition,
	cache map[string]map[string]string,
) (*Registry, error) {
	if cache == nil {
		cache = make(map[string]map[string]string)
	}

	for name, field := range fields {
		for _, target := range field.Reference {
			if _, ok := manifests[target]; !ok {
				return nil, fmt.Errorf(
					"field %s references undefined manifest %s", name, target)
			}
		}
	}

	for name, manifest := range manifests {
		if manifest.CNTemplate == "" {
			return nil, fmt.Errorf("manifest %s has no cn template", name)
		}
		for _, field := range manifest.Fields {
			if _, ok := fields[field]; !ok {
				return nil, fmt.Errorf(
					"manifest %s includes undefined field %s", name, field)
			}
		}
	}

	for name := range cache {
		if _, ok := manifests[name]; !ok {
			return nil, fmt.Errorf(
				"cache templates target undefined manifest %s", name)
		}
	}

	r := &Registry{
		fields:    fields,
		manifests: manifests,
		cache:     cache,
		backref:   make(map[string]*Backref),
	}
	r.buildBackref()
	return r, nil
}

// buildBackref inverts every reference field: for each manifest a field may
// point into, record the field and the manifests that carry it.
func (r *Registry) buildBackref() {
	names := make([]string, 0, len(r.manifests))
	for name := range r.manifests {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, fieldName := range r.manifests[name].Fields {
			field, ok := r.fields[fieldName]
			if !ok || !field.IsReference() {
				continue
			}
			for _, target := range field.Reference {
				ref, ok := r.backref[target]
				if !ok {
					ref = &Backref{Field: fieldName}
					r.backref[target] = ref
				}
				ref.Referers = append(ref.Referers, name)
			}
		}
	}
}

// Field returns the definition of the named field.
func (r *Registry) Field(name string) (*FieldDefinition, bool) {
	f, ok := r.fields[name]
	return f, ok
}

// Manifest returns the definition of the named manifest.
func (r *Registry) Manifest(name string) (*ManifestDefinition, bool) {
	m, ok := r.manifests[name]
	return m, ok
}

// CacheTemplates returns the cache-key templates configured for a manifest.
// Manifests without templates yield an empty map.
func (r *Registry) CacheTemplates(manifest string) map[string]string {
	return r.cache[manifest]
}

// Backref returns the reverse-reference entry for a manifest, if any field
// anywhere points into it.
func (r *Registry) Backref(manifest string) (*Backref, bool) {
	b, ok := r.backref[manifest]
	return b, ok
}

// Fields returns all field definitions, keyed by name.
func (r *Registry) Fields() map[string]*FieldDefinition { return r.fields }

// Manifests returns all manifest definitions, keyed by name.
func (r *Registry) Manifests() map[string]*ManifestDefinition { return r.manifests }

// Cache returns every configured cache template set, keyed by manifest.
func (r *Registry) Cache() map[string]map[string]string { return r.cache }
