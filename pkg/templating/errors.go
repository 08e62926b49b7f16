package templating

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying each failure kind. Use errors.Is against these;
// the concrete value returned by the engine is always an *Error carrying the
// failing template path.
var (
	ErrTemplateNotFound       = errors.New("template not found")
	ErrParentTemplateMissing  = errors.New("parent template missing")
	ErrIncludeTemplateMissing = errors.New("include template missing")
	ErrExpressionEvaluation   = errors.New("expression evaluation failed")
	ErrDepthExceeded          = errors.New("template nesting too deep")
	ErrOutputLimit            = errors.New("rendered output exceeds limit")
)

// Error is a structural rendering failure. Kind is one of the sentinel errors
// above, Path is the template that could not be resolved and Err is the
// underlying cause (if any).
type Error struct {
	Kind error
	Path string
	Err  error
}

// NewError builds an *Error of the given kind.
func NewError(kind error, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %q: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %q", e.Kind, e.Path)
}

// Is reports whether target is the kind of this error, so that
// errors.Is(err, ErrIncludeTemplateMissing) works without unwrapping to the cause.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// ExpressionError is reported when a condition cannot be parsed or evaluated.
// It never aborts rendering; the guarded branch is treated as false and the
// error is handed to the manager's expression error handler.
type ExpressionError struct {
	Template string
	Expr     string
	Err      error
}

func (e *ExpressionError) Error() string {
	if e.Template != "" {
		return fmt.Sprintf("%v in %q: %q: %v", ErrExpressionEvaluation, e.Template, e.Expr, e.Err)
	}
	return fmt.Sprintf("%v: %q: %v", ErrExpressionEvaluation, e.Expr, e.Err)
}

func (e *ExpressionError) Is(target error) bool {
	return target == ErrExpressionEvaluation
}

func (e *ExpressionError) Unwrap() error { return e.Err }
