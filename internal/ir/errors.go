package ir

import (
	"errors"
	"fmt"

	"microd/pkg/types"
)

// shapeMismatchError signals a caller-supplied binding that conflicts with
// what the model declares (wrong rank, unknown input name).
type shapeMismatchError struct {
	name   string
	detail string
}

func (e shapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch for %q: %s", e.name, e.detail)
}
func (e shapeMismatchError) Kind() types.ErrorKind { return types.KindShapeMismatch }

// IsShapeMismatch reports whether err indicates a conflicting input binding.
func IsShapeMismatch(err error) bool {
	var e shapeMismatchError
	return errors.As(err, &e)
}

// cyclicGraphError signals an operator list that admits no forward order.
// Well-formed converter output never produces this, but it must be defended
// against since the graph arrives from outside.
type cyclicGraphError struct{ detail string }

func (e cyclicGraphError) Error() string { return "cyclic graph: " + e.detail }
func (e cyclicGraphError) Kind() types.ErrorKind { return types.KindCyclicGraph }

// IsCyclicGraph reports whether err indicates an unorderable operator list.
func IsCyclicGraph(err error) bool {
	var e cyclicGraphError
	return errors.As(err, &e)
}

// shapeInferenceError signals incompatible operand shapes at a named node.
type shapeInferenceError struct {
	node   string
	detail string
}

func (e shapeInferenceError) Error() string {
	return fmt.Sprintf("shape inference failed at %s: %s", e.node, e.detail)
}
func (e shapeInferenceError) Kind() types.ErrorKind { return types.KindShapeInference }

func errShapeInference(node string, format string, args ...any) error {
	return shapeInferenceError{node: node, detail: fmt.Sprintf(format, args...)}
}

// IsShapeInferenceError reports whether err indicates incompatible operands.
func IsShapeInferenceError(err error) bool {
	var e shapeInferenceError
	return errors.As(err, &e)
}
