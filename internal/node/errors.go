// Package node implements the sitebase core engine: field validation,
// relation mapping, the cache build engine and the node lifecycle
// operations. The engine is an explicit value built from a schema registry
// and a store handle; there is no process-wide state.
package node

import (
	"fmt"
	"strings"
)

// Payloader is implemented by every error of the taxonomy; the payload is
// the serializable record handed to clients, with the error kind under the
// "error" key and nothing beyond the fields enumerated per kind.
type Payloader interface {
	error
	Payload() map[string]any
}

// NullValueError reports a required field that was absent or blank.
type NullValueError struct {
	Field string
}

func (e *NullValueError) Error() string {
	return fmt.Sprintf("field %s must not be empty", e.Field)
}

func (e *NullValueError) Payload() map[string]any {
	return map[string]any{"error": "NullValueError", "name": e.Field}
}

// ValueTypeError reports a field value of the wrong type.
type ValueTypeError struct {
	Field  string
	Expect string
}

func (e *ValueTypeError) Error() string {
	return fmt.Sprintf("field %s must be of type %s", e.Field, e.Expect)
}

func (e *ValueTypeError) Payload() map[string]any {
	return map[string]any{"error": "ValueTypeError", "name": e.Field, "expect": e.Expect}
}

// UniqueValueError reports a duplicate value for a unique field within its
// manifest.
type UniqueValueError struct {
	Field string
	Value string
}

func (e *UniqueValueError) Error() string {
	return fmt.Sprintf("field %s value %q already exists", e.Field, e.Value)
}

func (e *UniqueValueError) Payload() map[string]any {
	return map[string]any{"error": "UniqueValueError", "name": e.Field, "value": e.Value}
}

// RegexMatchError reports a value that does not match the field's pattern.
type RegexMatchError struct {
	Field   string
	Value   string
	Pattern string
}

func (e *RegexMatchError) Error() string {
	return fmt.Sprintf("field %s value %q does not match %s", e.Field, e.Value, e.Pattern)
}

func (e *RegexMatchError) Payload() map[string]any {
	return map[string]any{
		"error": "RegexMatchError", "name": e.Field,
		"value": e.Value, "regex": e.Pattern,
	}
}

// ReferenceNotFound reports a reference value that resolves to no node in
// the allowed target manifests.
type ReferenceNotFound struct {
	Manifest string
	Field    string
	Value    string
}

func (e *ReferenceNotFound) Error() string {
	return fmt.Sprintf("reference %s=%q of manifest %s not found",
		e.Field, e.Value, e.Manifest)
}

func (e *ReferenceNotFound) Payload() map[string]any {
	return map[string]any{
		"error": "ReferenceNotFound", "manifest": e.Manifest,
		"name": e.Field, "value": e.Value,
	}
}

// ManifestNotFound reports an unknown manifest name.
type ManifestNotFound struct {
	Manifest string
}

func (e *ManifestNotFound) Error() string {
	return fmt.Sprintf("manifest %q is not found", e.Manifest)
}

func (e *ManifestNotFound) Payload() map[string]any {
	return map[string]any{"error": "ManifestNotFound", "value": e.Manifest}
}

// ValidationError aggregates every field-level failure of one node write.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Payload() map[string]any {
	errors := make([]any, len(e.Errors))
	for i, err := range e.Errors {
		errors[i] = payloadOf(err)
	}
	return map[string]any{"error": "ValidationError", "errors": errors}
}

// NodeError pairs a node identifier with the error it failed with.
type NodeError struct {
	NodeID int64
	Err    error
}

// BatchOperationError aggregates per-node failures across a batch.
type BatchOperationError struct {
	Errors []NodeError
}

func (e *BatchOperationError) Error() string {
	return fmt.Sprintf("batch operation failed for %d item(s)", len(e.Errors))
}

func (e *BatchOperationError) Payload() map[string]any {
	errors := make([]any, len(e.Errors))
	for i, ne := range e.Errors {
		errors[i] = map[string]any{
			"node_id": ne.NodeID,
			"error":   payloadOf(ne.Err),
		}
	}
	return map[string]any{"error": "BatchOperationError", "errors": errors}
}

// NodeNotFound reports a missing read/update/delete target.
type NodeNotFound struct {
	ID int64
}

func (e *NodeNotFound) Error() string {
	return fmt.Sprintf("node %d is not found", e.ID)
}

func (e *NodeNotFound) Payload() map[string]any {
	return map[string]any{"error": "NodeNotFound", "value": e.ID}
}

// NodeInUseError blocks a delete while live referers point at the node.
type NodeInUseError struct {
	ID       int64
	Referers []int64
}

func (e *NodeInUseError) Error() string {
	return fmt.Sprintf("node %d is referenced by %d node(s)", e.ID, len(e.Referers))
}

func (e *NodeInUseError) Payload() map[string]any {
	return map[string]any{
		"error": "NodeInUseError", "value": e.ID, "referers": e.Referers,
	}
}

// DataIntegrityError reports a stored reference value that is not a valid
// pointer token, or a reference chain deeper than the build guard allows.
type DataIntegrityError struct {
	ID    int64
	Field string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("node %d field %s holds a corrupted reference", e.ID, e.Field)
}

func (e *DataIntegrityError) Payload() map[string]any {
	return map[string]any{"error": "DataIntegrityError", "name": e.Field}
}

// EmptyInputData reports an empty batch submission.
type EmptyInputData struct{}

func (e *EmptyInputData) Error() string { return "empty input data" }

func (e *EmptyInputData) Payload() map[string]any {
	return map[string]any{"error": "EmptyInputData"}
}

// SearchGrammarError reports a malformed search expression.
type SearchGrammarError struct {
	Message  string
	Position int
}

func (e *SearchGrammarError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Position)
}

func (e *SearchGrammarError) Payload() map[string]any {
	return map[string]any{
		"error": "SearchGrammarError", "message": e.Message, "position": e.Position,
	}
}

// payloadOf serializes any error: taxonomy errors render their own payload,
// everything else degrades to a generic record.
func payloadOf(err error) map[string]any {
	if p, ok := err.(Payloader); ok {
		return p.Payload()
	}
	return map[string]any{"error": "GenericError", "message": err.Error()}
}
