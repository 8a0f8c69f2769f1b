package httpapi

import (
	"encoding/json"
	"net/http"

	"microd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps the pipeline error taxonomy onto HTTP status codes.
// Request-shaped failures are 4xx; device-side failures surface as 502 so
// callers can tell "your request is wrong" from "the target is unwell".
func statusForError(err error) int {
	switch types.KindOf(err) {
	case types.KindModelNotFound:
		return http.StatusNotFound
	case types.KindSessionBusy:
		return http.StatusTooManyRequests
	case types.KindMalformedModel,
		types.KindUnsupportedOperator,
		types.KindShapeMismatch,
		types.KindCyclicGraph,
		types.KindShapeInference,
		types.KindUnknownTarget,
		types.KindUnknownBuffer,
		types.KindSizeMismatch:
		return http.StatusUnprocessableEntity
	case types.KindConnectError,
		types.KindTimeout,
		types.KindBuildError,
		types.KindExecutionFault:
		return http.StatusBadGateway
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind types.ErrorKind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: string(kind), Code: status})
}

// writeServiceError maps err and writes it, bumping the backpressure
// counter for 429s.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("session_busy")
	}
	writeJSONError(w, status, types.KindOf(err), err.Error())
	return status
}
