package retrieval

import (
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/embedding"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/index"
)

// GenericFailureMessage is the user-facing text when no answer could be produced.
const GenericFailureMessage = "Sorry, I couldn't put together an answer to that question right now. Please try again or rephrase it."

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	KindRetrieval ErrorKind = iota + 1
	KindQueryExecution
	KindGeneration
	KindDimensionMismatch
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetrieval:
		return "retrieval"
	case KindQueryExecution:
		return "query_execution"
	case KindGeneration:
		return "generation"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindConfig:
		return "config"
	}
	return "unknown"
}

// Error is a classified engine error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrGeneration) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrRetrieval         = &Error{Kind: KindRetrieval}
	ErrQueryExecution    = &Error{Kind: KindQueryExecution}
	ErrGeneration        = &Error{Kind: KindGeneration}
	ErrDimensionMismatch = &Error{Kind: KindDimensionMismatch}
	ErrConfig            = &Error{Kind: KindConfig}
)

// classify wraps err with the kind implied by its cause.
func classify(op string, fallback ErrorKind, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := fallback
	switch {
	case errors.Is(err, index.ErrDimensionMismatch), errors.Is(err, embedding.ErrDimensionMismatch):
		kind = KindDimensionMismatch
	case errors.Is(err, config.ErrInvalidConfig):
		kind = KindConfig
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or zero when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
