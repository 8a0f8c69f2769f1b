package device

import (
	"errors"
	"fmt"

	"microd/pkg/types"
)

// connectError covers refusal, handshake failure, and transport-level
// breakage that makes the connection unusable.
type connectError struct {
	addr   string
	detail string
}

func (e connectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.addr, e.detail)
}
func (e connectError) Kind() types.ErrorKind { return types.KindConnectError }

// IsConnectError reports whether err indicates transport establishment or
// framing failure.
func IsConnectError(err error) bool {
	var e connectError
	return errors.As(err, &e)
}

// buildError carries the target toolchain's output verbatim.
type buildError struct{ details string }

func (e buildError) Error() string { return "target build failed: " + e.details }
func (e buildError) Kind() types.ErrorKind { return types.KindBuildError }

// IsBuildError reports whether err indicates an on-target build failure.
func IsBuildError(err error) bool {
	var e buildError
	return errors.As(err, &e)
}

// BuildDetails extracts the toolchain output from a build error.
func BuildDetails(err error) (string, bool) {
	var e buildError
	if errors.As(err, &e) {
		return e.details, true
	}
	return "", false
}

type unknownBufferError struct{ name string }

func (e unknownBufferError) Error() string { return "unknown buffer: " + e.name }
func (e unknownBufferError) Kind() types.ErrorKind { return types.KindUnknownBuffer }

// IsUnknownBuffer reports whether err names a buffer absent from the
// manifest.
func IsUnknownBuffer(err error) bool {
	var e unknownBufferError
	return errors.As(err, &e)
}

type sizeMismatchError struct {
	name string
	want int
	got  int
}

func (e sizeMismatchError) Error() string {
	return fmt.Sprintf("buffer %q expects %d bytes, got %d", e.name, e.want, e.got)
}
func (e sizeMismatchError) Kind() types.ErrorKind { return types.KindSizeMismatch }

// IsSizeMismatch reports whether err indicates a tensor payload length that
// disagrees with the manifest.
func IsSizeMismatch(err error) bool {
	var e sizeMismatchError
	return errors.As(err, &e)
}

// executionFaultError reports a runtime trap on the target; code is the
// nonzero value returned by the generated entry point.
type executionFaultError struct{ code int32 }

func (e executionFaultError) Error() string {
	return fmt.Sprintf("target reported execution fault %d", e.code)
}
func (e executionFaultError) Kind() types.ErrorKind { return types.KindExecutionFault }

// IsExecutionFault reports whether err indicates a runtime trap on the
// target.
func IsExecutionFault(err error) bool {
	var e executionFaultError
	return errors.As(err, &e)
}

type timeoutError struct{ op OpCode }

func (e timeoutError) Error() string {
	return fmt.Sprintf("%s: no response within deadline", e.op)
}
func (e timeoutError) Kind() types.ErrorKind { return types.KindTimeout }

// IsTimeout reports whether err indicates a missed completion deadline.
func IsTimeout(err error) bool {
	var e timeoutError
	return errors.As(err, &e)
}

// sessionBusyError signals an operation attempted while another is in
// flight. Recoverable without reconnecting.
type sessionBusyError struct{}

func (sessionBusyError) Error() string { return "session busy: run in flight" }
func (sessionBusyError) Kind() types.ErrorKind { return types.KindSessionBusy }

// IsSessionBusy reports whether err indicates an in-flight run.
func IsSessionBusy(err error) bool {
	var e sessionBusyError
	return errors.As(err, &e)
}

type invalidStateError struct {
	op    string
	state SessionState
}

func (e invalidStateError) Error() string {
	return fmt.Sprintf("%s not valid in session state %s", e.op, e.state)
}
func (e invalidStateError) Kind() types.ErrorKind { return types.KindInvalidState }

// IsInvalidState reports whether err indicates an operation outside its
// valid source state.
func IsInvalidState(err error) bool {
	var e invalidStateError
	return errors.As(err, &e)
}
