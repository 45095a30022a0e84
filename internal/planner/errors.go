package planner

import (
	"errors"
	"fmt"

	"queryengine/internal/catalog"
	"queryengine/internal/schema"
)

// MaxDepthMessage is the message of every relational depth violation,
// whichever part of the query caused it.
const MaxDepthMessage = "Invalid query. Max relational depth exceeded."

// ErrorKind classifies query resolution failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindSchemaResolution
	KindInvalidOperator
	KindUnimplementedOperator
	KindAmbiguousRelation
	KindInvalidFieldExpression
	KindMaxDepthExceeded
	KindInvalidQuery
)

var kindNames = map[ErrorKind]string{
	KindUnknown:                "unknown",
	KindSchemaResolution:       "schema_resolution",
	KindInvalidOperator:        "invalid_operator",
	KindUnimplementedOperator:  "unimplemented_operator",
	KindAmbiguousRelation:      "ambiguous_relation",
	KindInvalidFieldExpression: "invalid_field_expression",
	KindMaxDepthExceeded:       "max_depth_exceeded",
	KindInvalidQuery:           "invalid_query",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Code is the machine readable code placed in error payload extensions.
func (k ErrorKind) Code() string {
	switch k {
	case KindUnimplementedOperator:
		return "INTERNAL"
	case KindUnknown:
		return "INTERNAL"
	default:
		return "INVALID_QUERY"
	}
}

// IsUserError reports whether the caller can fix the failure by changing the query.
func (k ErrorKind) IsUserError() bool {
	return k != KindUnknown && k != KindUnimplementedOperator
}

// SchemaResolutionError reports a path segment that names no collection, field
// or relation.
type SchemaResolutionError struct {
	Collection string
	Path       string
	Message    string
	Err        error
}

func (e *SchemaResolutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("cannot resolve %q on %q", e.Path, e.Collection)
}

func (e *SchemaResolutionError) Unwrap() error { return e.Err }

// AmbiguousRelationError reports a polymorphic relation traversed without a
// collection scope where one is required.
type AmbiguousRelationError struct {
	Collection string
	Field      string
	Allowed    []string
}

func (e *AmbiguousRelationError) Error() string {
	return fmt.Sprintf("relation %q on %q is polymorphic; select one collection with %q", e.Field, e.Collection, e.Field+":<collection>")
}

// InvalidFieldExpressionError reports a malformed field expression, function
// call or alias.
type InvalidFieldExpressionError struct {
	Expression string
	Reason     string
}

func (e *InvalidFieldExpressionError) Error() string {
	return fmt.Sprintf("invalid field expression %q: %s", e.Expression, e.Reason)
}

// MaxDepthExceededError reports a path traversing more relations than allowed.
// The message never varies; the fields say where the violation happened.
type MaxDepthExceededError struct {
	Surface Surface
	Path    string
	Depth   int
	Max     int
}

func (e *MaxDepthExceededError) Error() string { return MaxDepthMessage }

// InvalidQueryError reports a structurally malformed query value.
type InvalidQueryError struct {
	Message string
}

func (e *InvalidQueryError) Error() string { return e.Message }

func invalidQuery(format string, args ...interface{}) error {
	return &InvalidQueryError{Message: fmt.Sprintf(format, args...)}
}

func unknownFilterKey(key, collection string) error {
	return &SchemaResolutionError{
		Collection: collection,
		Path:       key,
		Message:    fmt.Sprintf("Invalid filter key %q on %q", key, collection),
	}
}

func unresolved(collection, path string, err error) error {
	var notFound *schema.NotFoundError
	if errors.As(err, &notFound) {
		return &SchemaResolutionError{Collection: collection, Path: path, Err: err}
	}
	return err
}

// ClassifyError maps an error returned by the planner to its kind.
func ClassifyError(err error) ErrorKind {
	var (
		schemaErr        *SchemaResolutionError
		notFound         *schema.NotFoundError
		invalidOp        *catalog.InvalidOperatorError
		unimplemented    *catalog.UnimplementedOperatorError
		ambiguous        *AmbiguousRelationError
		invalidFieldExpr *InvalidFieldExpressionError
		depth            *MaxDepthExceededError
		invalid          *InvalidQueryError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &depth):
		return KindMaxDepthExceeded
	case errors.As(err, &unimplemented):
		return KindUnimplementedOperator
	case errors.As(err, &invalidOp):
		return KindInvalidOperator
	case errors.As(err, &ambiguous):
		return KindAmbiguousRelation
	case errors.As(err, &invalidFieldExpr):
		return KindInvalidFieldExpression
	case errors.As(err, &schemaErr), errors.As(err, &notFound):
		return KindSchemaResolution
	case errors.As(err, &invalid):
		return KindInvalidQuery
	default:
		return KindUnknown
	}
}

// Payload is the error document handed to transports.
type Payload struct {
	Errors []PayloadError `json:"errors"`
}

// PayloadError is one entry of a Payload.
type PayloadError struct {
	Message    string            `json:"message"`
	Extensions PayloadExtensions `json:"extensions"`
}

// PayloadExtensions carries the error classification.
type PayloadExtensions struct {
	Code string `json:"code"`
	Kind string `json:"kind"`
}

// ErrorPayload wraps err in the uniform {"errors":[{"message":...}]} document.
// Depth violations always carry MaxDepthMessage, even when wrapped.
func ErrorPayload(err error) Payload {
	kind := ClassifyError(err)
	message := err.Error()
	if kind == KindMaxDepthExceeded {
		message = MaxDepthMessage
	}
	return Payload{Errors: []PayloadError{{
		Message:    message,
		Extensions: PayloadExtensions{Code: kind.Code(), Kind: kind.String()},
	}}}
}
