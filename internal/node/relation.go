package node

import (
	"context"

	"github.com/juehai/sitebase/internal/store"
)

// NodeRelation is a validated node write ready for persistence. Value
// holds the persisted representation (reference fields as pointer tokens);
// Display holds the client view (reference fields as the literal target
// canonical name).
type NodeRelation struct {
	ID       int64
	Manifest string
	CN       string
	Value    map[string]string
	Display  map[string]string
}

// mapRelation combines field results into a NodeRelation. Any field error
// rejects the whole node with an aggregate ValidationError. On update the
// persisted mapping is overlaid onto a snapshot of the node's stored
// values so the canonical-name template sees the effective post-update
// state.
func (e *Engine) mapRelation(
	ctx context.Context,
	nodeID int64, manifest string,
	results []*fieldResult, failures []error,
	isCreate bool,
) (*NodeRelation, error) {
	if len(failures) > 0 {
		return nil, &ValidationError{Errors: failures}
	}

	value := make(map[string]string)
	display := make(map[string]string)
	for _, r := range results {
		if r.value == nil {
			continue
		}
		value[r.field] = *r.value
		display[r.field] = *r.value
		if r.referer != "" {
			display[r.field] = r.referer
		}
	}

	effective := value
	if nodeID != 0 && !isCreate {
		current, err := e.store.GetNode(ctx, e.store.DB(), nodeID)
		if err == store.ErrNotFound {
			return nil, &NodeNotFound{ID: nodeID}
		}
		if err != nil {
			return nil, err
		}
		effective = make(map[string]string, len(current.Value)+len(value))
		for k, v := range current.Value {
			effective[k] = v
		}
		for k, v := range value {
			effective[k] = v
		}
	}

	m, _ := e.schema.Manifest(manifest)
	return &NodeRelation{
		ID:       nodeID,
		Manifest: manifest,
		CN:       m.CN(effective),
		Value:    value,
		Display:  display,
	}, nil
}

// validateAndMap is the full pipeline from submitted values to a relation.
func (e *Engine) validateAndMap(
	ctx context.Context,
	nodeID int64, manifestName string,
	values map[string]any,
	isCreate bool,
) (*NodeRelation, error) {
	manifest, ok := e.schema.Manifest(manifestName)
	if !ok {
		return nil, &ManifestNotFound{Manifest: manifestName}
	}
	results, failures := e.validateNode(ctx, nodeID, manifest, values, isCreate)
	return e.mapRelation(ctx, nodeID, manifestName, results, failures, isCreate)
}
