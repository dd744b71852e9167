package http

import (
	"net/http"
	"strings"
)

// CORSMiddleware mirrors the teacher's CORS policy: outside production every
// origin is echoed back, in production only an explicitly allow-listed
// origin is. No gin/gin-contrib dependency — the broker's entire HTTP stack
// is stdlib, so CORS is this one small handler.
func CORSMiddleware(environment string, allowedOrigins []string) func(http.Handler) http.Handler {
	production := strings.EqualFold(strings.TrimSpace(environment), "production")
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (!production || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-Id")
				appendVary(w, "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func appendVary(w http.ResponseWriter, value string) {
	existing := w.Header().Get("Vary")
	if existing == "" {
		w.Header().Set("Vary", value)
		return
	}
	for _, v := range strings.Split(existing, ",") {
		if strings.TrimSpace(v) == value {
			return
		}
	}
	w.Header().Set("Vary", existing+", "+value)
}
