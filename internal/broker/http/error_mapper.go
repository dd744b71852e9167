package http

import (
	"net/http"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
)

// mapEngineError translates an error surfaced by the engine, tracker, or
// catalog into an HTTP status code and a user-facing message (spec §7).
// Returns (0, "") for an error this mapper does not recognise, leaving the
// caller to fall back to a default status.
func mapEngineError(err error) (status int, message string) {
	if err == nil {
		return 0, ""
	}

	switch {
	case errs.Is(err, errs.KindValidation):
		return http.StatusBadRequest, err.Error()
	case errs.Is(err, errs.KindAgentNotFound):
		return http.StatusNotFound, err.Error()
	case errs.Is(err, errs.KindProtocol):
		return http.StatusBadGateway, err.Error()
	case errs.Is(err, errs.KindLockContention):
		return http.StatusConflict, err.Error()
	case errs.Is(err, errs.KindTransient):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return 0, ""
	}
}

// writeMappedError writes an error response using the engine error mapping,
// falling back to defaultStatus/defaultMsg for anything unrecognised.
func writeMappedError(w http.ResponseWriter, err error, defaultStatus int, defaultMsg string) {
	if status, msg := mapEngineError(err); status != 0 {
		writeJSONError(w, status, msg, err)
		return
	}
	writeJSONError(w, defaultStatus, defaultMsg, err)
}
