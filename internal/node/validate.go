package node

import (
	"context"
	"strings"
	"sync"

	"github.com/juehai/sitebase/internal/schema"
	"github.com/juehai/sitebase/internal/store"
)

// fieldResult is the outcome of validating a single field. A nil value
// means "leave unchanged" (the field was absent from an update).
type fieldResult struct {
	field   string
	value   *string
	referer string // display cn when value holds a pointer token
}

// validateField runs one field through the validation pipeline: decorators,
// reference resolution or the simple constraints, then absent-field
// defaulting. Lookups (uniqueness, reference resolution) run against the
// pool, outside any write transaction.
func (e *Engine) validateField(
	ctx context.Context,
	nodeID int64, manifest string,
	fd *schema.FieldDefinition,
	values map[string]any,
	isCreate bool,
) (*fieldResult, error) {
	raw, present := values[fd.Name]

	var value string
	if present {
		s, ok := raw.(string)
		if !ok {
			return nil, &ValueTypeError{Field: fd.Name, Expect: "string"}
		}
		value = fd.Decorate(s)
	}

	if fd.IsReference() && present && value != "" {
		referer := strings.ToLower(value)
		targetID, err := e.store.SelectByCN(ctx, e.store.DB(), fd.Reference, referer)
		if err == store.ErrNotFound {
			return nil, &ReferenceNotFound{Manifest: manifest, Field: fd.Name, Value: referer}
		}
		if err != nil {
			return nil, err
		}
		token := pointerToken(targetID)
		return &fieldResult{field: fd.Name, value: &token, referer: referer}, nil
	}

	if err := e.validateSimple(ctx, nodeID, manifest, fd, value, present, isCreate); err != nil {
		return nil, err
	}

	if !present {
		if isCreate {
			empty := ""
			return &fieldResult{field: fd.Name, value: &empty}, nil
		}
		return &fieldResult{field: fd.Name}, nil
	}

	return &fieldResult{field: fd.Name, value: &value}, nil
}

// validateSimple enforces not_null, unique and regex. An absent regex never
// constrains; uniqueness is scoped to the manifest and excludes the node
// itself on update.
func (e *Engine) validateSimple(
	ctx context.Context,
	nodeID int64, manifest string,
	fd *schema.FieldDefinition,
	value string, present, isCreate bool,
) error {
	if fd.NotNull {
		if isCreate && (!present || value == "") {
			return &NullValueError{Field: fd.Name}
		}
		if present && value == "" {
			return &NullValueError{Field: fd.Name}
		}
	}

	if fd.Unique && present {
		duplicated, err := e.store.CheckUnique(
			ctx, e.store.DB(), nodeID, manifest, fd.Name, value, isCreate)
		if err != nil {
			return err
		}
		if duplicated {
			return &UniqueValueError{Field: fd.Name, Value: value}
		}
	}

	if fd.Regex != nil && present {
		if !fd.Regex.MatchString(value) {
			return &RegexMatchError{
				Field: fd.Name, Value: value, Pattern: fd.Regex.String(),
			}
		}
	}

	return nil
}

// validateNode validates every field of a manifest concurrently and
// collects all failures; sibling fields are never aborted by one another.
func (e *Engine) validateNode(
	ctx context.Context,
	nodeID int64,
	manifest *schema.ManifestDefinition,
	values map[string]any,
	isCreate bool,
) ([]*fieldResult, []error) {
	results := make([]*fieldResult, len(manifest.Fields))
	failures := make([]error, len(manifest.Fields))

	var wg sync.WaitGroup
	for i, name := range manifest.Fields {
		fd, ok := e.schema.Field(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, fd *schema.FieldDefinition) {
			defer wg.Done()
			results[i], failures[i] = e.validateField(
				ctx, nodeID, manifest.Name, fd, values, isCreate)
		}(i, fd)
	}
	wg.Wait()

	var (
		ok   []*fieldResult
		errs []error
	)
	for i := range results {
		if failures[i] != nil {
			errs = append(errs, failures[i])
			continue
		}
		if results[i] != nil {
			ok = append(ok, results[i])
		}
	}
	return ok, errs
}
