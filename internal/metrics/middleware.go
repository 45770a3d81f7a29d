package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// knownPaths is the bounded set of paths recorded as-is; anything else is
// collapsed so scanners can't blow up label cardinality.
var knownPaths = map[string]bool{
	"/signal":             true,
	"/health":             true,
	"/metrics":            true,
	"/metrics/prometheus": true,
	"/kill":               true,
	"/resume":             true,
	"/record-trade":       true,
}

// NormalizePath maps a request path to the bounded label set
func NormalizePath(path string) string {
	// Trim trailing slash so /signal/ and /signal count together
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	if knownPaths[trimmed] || trimmed == "/" {
		return trimmed
	}
	return "other"
}

// HTTPMiddleware returns middleware that instruments HTTP requests
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
			written:        false,
		}

		// Call next handler
		next.ServeHTTP(rw, r)

		// Record metrics
		duration := float64(time.Since(start).Milliseconds())
		statusCode := strconv.Itoa(rw.statusCode)

		RecordAPIRequest(r.Method, NormalizePath(r.URL.Path), statusCode, duration)
	})
}
