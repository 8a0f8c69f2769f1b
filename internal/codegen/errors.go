package codegen

import (
	"errors"
	"fmt"

	"microd/pkg/types"
)

// unknownTargetError signals a target identifier with no kernel set.
type unknownTargetError struct{ id string }

func (e unknownTargetError) Error() string { return "unknown target: " + e.id }
func (e unknownTargetError) Kind() types.ErrorKind { return types.KindUnknownTarget }

// IsUnknownTarget reports whether err indicates an unrecognized target id.
func IsUnknownTarget(err error) bool {
	var e unknownTargetError
	return errors.As(err, &e)
}

// unsupportedDTypeError signals a tensor whose element type has no kernel
// implementation. It carries the shape-mismatch kind: the caller bound a
// dtype the target cannot satisfy.
type unsupportedDTypeError struct {
	name  string
	dtype types.DType
}

func (e unsupportedDTypeError) Error() string {
	return fmt.Sprintf("tensor %q is %s; only float32 kernels are implemented", e.name, e.dtype)
}
func (e unsupportedDTypeError) Kind() types.ErrorKind { return types.KindShapeMismatch }

// IsUnsupportedDType reports whether err indicates a non-float32 tensor.
func IsUnsupportedDType(err error) bool {
	var e unsupportedDTypeError
	return errors.As(err, &e)
}
