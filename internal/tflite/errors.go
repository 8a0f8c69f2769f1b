package tflite

import (
	"errors"
	"fmt"

	"microd/pkg/types"
)

// malformedModelError signals a buffer that does not decode as a supported
// TFLite model: bad ident, wrong version, truncation, or invalid indices.
type malformedModelError struct{ detail string }

func (e malformedModelError) Error() string { return "malformed model: " + e.detail }
func (e malformedModelError) Kind() types.ErrorKind { return types.KindMalformedModel }

func errMalformed(format string, args ...any) error {
	return malformedModelError{detail: fmt.Sprintf(format, args...)}
}

// IsMalformedModel reports whether err indicates an undecodable model buffer.
func IsMalformedModel(err error) bool {
	var e malformedModelError
	return errors.As(err, &e)
}

// unsupportedOperatorError reports an opcode outside the supported builtin
// set. Third-party models routinely carry such codes, so this is an expected,
// recoverable failure carrying the numeric code for diagnosis.
type unsupportedOperatorError struct {
	code  int
	index int
}

func (e unsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator code %d (operator %d)", e.code, e.index)
}
func (e unsupportedOperatorError) Kind() types.ErrorKind { return types.KindUnsupportedOperator }

// IsUnsupportedOperator reports whether err indicates an unmapped opcode.
func IsUnsupportedOperator(err error) bool {
	var e unsupportedOperatorError
	return errors.As(err, &e)
}

// UnsupportedOperatorCode extracts the offending opcode value, if any.
func UnsupportedOperatorCode(err error) (int, bool) {
	var e unsupportedOperatorError
	if errors.As(err, &e) {
		return e.code, true
	}
	return 0, false
}
