package pipeline

import "microd/pkg/types"

// modelNotFoundError signals a requested model id absent from the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }
func (e modelNotFoundError) Kind() types.ErrorKind { return types.KindModelNotFound }

// ErrModelNotFound constructs the error for a missing model id.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// badBindingError rejects a request binding that cannot apply to the model,
// such as an unparseable dtype. It shares the shape-mismatch kind so the
// HTTP layer treats it as an unprocessable request.
type badBindingError struct{ msg string }

func (e badBindingError) Error() string { return "bad input binding: " + e.msg }
func (e badBindingError) Kind() types.ErrorKind { return types.KindShapeMismatch }
