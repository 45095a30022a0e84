// Package gqlrequest converts GraphQL query documents into collection queries.
// A root field names a collection; its selection set becomes the field list
// and its arguments become the query parameters.
package gqlrequest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// Stage names the analysis step that failed.
type Stage string

const (
	StageParse     Stage = "parse"
	StageSelect    Stage = "select"
	StageOperation Stage = "operation"
	StageHash      Stage = "hash"
)

// AnalysisError reports why a document cannot be converted.
type AnalysisError struct {
	Stage Stage
	Err   error
}

func (e *AnalysisError) Error() string {
	if e.Stage == StageParse {
		return "parse graphql document: " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ErrNoOperation is returned for an empty document or one without operations.
var ErrNoOperation = errors.New("request does not include an operation")

// Analysis is a parsed document with the operation to run selected.
// Statistics are filled in for any operation that was selected, including
// operation types that are then rejected.
type Analysis struct {
	Envelope Envelope

	Document  *ast.Document
	Fragments map[string]*ast.FragmentDefinition
	Operation *ast.OperationDefinition

	OperationName string
	OperationType string

	RootFields     int // top-level selections, each one collection query
	FieldCount     int
	SelectionDepth int
	VariableCount  int

	CanonicalOperation string
	OperationHash      string

	err *AnalysisError
}

// Err returns the first failure, or nil when the document can be converted.
func (a *Analysis) Err() error {
	if a.err != nil {
		return a.err
	}
	if a.Operation == nil {
		return &AnalysisError{Stage: StageSelect, Err: ErrNoOperation}
	}
	return nil
}

// FailedStage returns the stage that failed, or "" on success.
func (a *Analysis) FailedStage() Stage {
	var ae *AnalysisError
	if errors.As(a.Err(), &ae) {
		return ae.Stage
	}
	return ""
}

func (a *Analysis) fail(stage Stage, err error) *Analysis {
	a.err = &AnalysisError{Stage: stage, Err: err}
	return a
}

// Analyze parses env's document, selects the operation and collects its
// statistics. Only query operations can be resolved.
func Analyze(env Envelope) *Analysis {
	a := &Analysis{Envelope: env, Fragments: map[string]*ast.FragmentDefinition{}}
	if strings.TrimSpace(env.Query) == "" {
		return a
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(env.Query), Name: "graphql"}),
	})
	if err != nil {
		return a.fail(StageParse, err)
	}
	a.Document = doc

	var operations []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			operations = append(operations, d)
		case *ast.FragmentDefinition:
			if d.Name != nil && d.Name.Value != "" {
				a.Fragments[d.Name.Value] = d
			}
		}
	}
	op, err := selectOperation(operations, env.OperationName)
	if err != nil {
		return a.fail(StageSelect, err)
	}

	a.Operation = op
	a.OperationName = effectiveOperationName(op)
	a.OperationType = op.Operation
	a.VariableCount = len(op.VariableDefinitions)
	if op.SelectionSet != nil {
		a.RootFields = len(op.SelectionSet.Selections)
	}
	stats := selectionStats{fragments: a.Fragments, expanded: map[string]bool{}}
	stats.visit(op.SelectionSet, 1)
	a.FieldCount, a.SelectionDepth = stats.fields, stats.depth

	if op.Operation != ast.OperationTypeQuery {
		return a.fail(StageOperation, fmt.Errorf("only query operations can be resolved, got %s", op.Operation))
	}

	a.CanonicalOperation, a.OperationHash, err = canonicalOperationAndHash(op, a.Fragments)
	if err != nil {
		return a.fail(StageHash, err)
	}
	return a
}

func selectOperation(operations []*ast.OperationDefinition, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		switch len(operations) {
		case 0:
			return nil, ErrNoOperation
		case 1:
			return operations[0], nil
		default:
			return nil, fmt.Errorf("operationName is required when request has multiple operations")
		}
	}
	for _, op := range operations {
		if op.Name != nil && op.Name.Value == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("unknown operation named %q", name)
}

// selectionStats counts fields and the deepest field nesting. Fragments are
// expanded once each, so cyclic spreads terminate.
type selectionStats struct {
	fragments map[string]*ast.FragmentDefinition
	expanded  map[string]bool
	fields    int
	depth     int
}

func (s *selectionStats) visit(set *ast.SelectionSet, depth int) {
	if set == nil {
		return
	}
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			s.fields++
			s.depth = max(s.depth, depth)
			s.visit(sel.SelectionSet, depth+1)
		case *ast.InlineFragment:
			s.visit(sel.SelectionSet, depth)
		case *ast.FragmentSpread:
			name := spreadName(sel)
			if name == "" || s.expanded[name] {
				continue
			}
			s.expanded[name] = true
			if fragment := s.fragments[name]; fragment != nil {
				s.visit(fragment.SelectionSet, depth)
			}
		}
	}
}

func spreadName(sel *ast.FragmentSpread) string {
	if sel.Name == nil {
		return ""
	}
	return sel.Name.Value
}
