// Package reqctx provides the correlation context threaded through every
// guarded operation. A Context is a value: derivation copies the parent and
// overlays new fields, so concurrent sub-operations branching from the same
// parent never observe each other's additions.
package reqctx

import (
	"time"

	"github.com/google/uuid"

	"github.com/asksonar/perplexity-mcp/pkg/identifier"
)

// EntityRequest is the entity type registered for request identifiers.
const EntityRequest = "request"

// Context correlates one logical operation. Treat it as immutable once
// created; use Child to derive a context for a sub-operation.
type Context struct {
	// RequestID uniquely identifies the logical request.
	RequestID string

	// Operation names what is being performed (e.g. "perplexity_ask").
	Operation string

	// Timestamp is when the context was created.
	Timestamp time.Time

	// Meta holds free-form correlation metadata.
	Meta map[string]any
}

// Service creates request contexts. The identifier generator supplies
// request IDs; when it has no "request" prefix registered, a plain UUID
// is used instead so context creation never fails.
type Service struct {
	ids *identifier.Generator
}

// NewService creates a context service backed by the given generator.
func NewService(ids *identifier.Generator) *Service {
	return &Service{ids: ids}
}

// New creates a fresh Context for an operation, stamping a new request ID
// and the current time. The initial metadata is copied, never retained.
func (s *Service) New(operation string, initial map[string]any) Context {
	id, err := s.ids.Generate(EntityRequest)
	if err != nil {
		id = uuid.New().String()
	}

	meta := make(map[string]any, len(initial))
	for k, v := range initial {
		meta[k] = v
	}

	return Context{
		RequestID: id,
		Operation: operation,
		Timestamp: time.Now(),
		Meta:      meta,
	}
}

// Child derives a context for a sub-operation: all parent fields are copied,
// the operation is replaced, and extra metadata is overlaid. The parent is
// left untouched.
func (c Context) Child(operation string, extra map[string]any) Context {
	meta := make(map[string]any, len(c.Meta)+len(extra))
	for k, v := range c.Meta {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}

	child := c
	child.Operation = operation
	child.Meta = meta
	return child
}

// With returns a copy of the context with one metadata field overlaid.
func (c Context) With(key string, value any) Context {
	return c.Child(c.Operation, map[string]any{key: value})
}

// Fields flattens the context into a map for structured logging.
func (c Context) Fields() map[string]any {
	fields := make(map[string]any, len(c.Meta)+3)
	for k, v := range c.Meta {
		fields[k] = v
	}
	fields["request_id"] = c.RequestID
	fields["operation"] = c.Operation
	fields["timestamp"] = c.Timestamp.Format(time.RFC3339Nano)
	return fields
}
