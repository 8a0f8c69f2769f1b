package types

import "errors"

// ErrorKind is a stable tag for every failure the pipeline can surface.
// Callers branch on kinds, never on message text.
type ErrorKind string

const (
	KindMalformedModel      ErrorKind = "malformed_model"
	KindUnsupportedOperator ErrorKind = "unsupported_operator"
	KindShapeMismatch       ErrorKind = "shape_mismatch"
	KindCyclicGraph         ErrorKind = "cyclic_graph"
	KindShapeInference      ErrorKind = "shape_inference_error"
	KindUnknownTarget       ErrorKind = "unknown_target"
	KindConnectError        ErrorKind = "connect_error"
	KindBuildError          ErrorKind = "build_error"
	KindUnknownBuffer       ErrorKind = "unknown_buffer"
	KindSizeMismatch        ErrorKind = "size_mismatch"
	KindExecutionFault      ErrorKind = "execution_fault"
	KindTimeout             ErrorKind = "timeout"
	KindSessionBusy         ErrorKind = "session_busy"
	KindInvalidState        ErrorKind = "invalid_state"
	KindModelNotFound       ErrorKind = "model_not_found"
)

// KindedError is implemented by every taxonomy error in this module.
type KindedError interface {
	error
	Kind() ErrorKind
}

// KindOf extracts the taxonomy kind from an error chain, or "" if none.
func KindOf(err error) ErrorKind {
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return ""
}
