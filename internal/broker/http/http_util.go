package http

import (
	"encoding/json"
	"net/http"
)

// writeJSON serialises payload as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeJSONError writes a uniform {"error": message} body. err, if non-nil,
// is only used by the caller for logging; it is never serialised.
func writeJSONError(w http.ResponseWriter, status int, message string, err error) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSONBody decodes r's body into dst, capping it at maxBytes. On
// failure it writes a 400 response itself and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) bool {
	if maxBytes <= 0 {
		maxBytes = defaultMaxTaskBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body: "+err.Error(), err)
		return false
	}
	return true
}
