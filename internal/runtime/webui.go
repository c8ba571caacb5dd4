package runtime

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
)

// StatsPath is where StatsHandler is mounted by the binaries.
const StatsPath = "/api/queues"

// StatsHandler serves the QueueMetrics snapshot as JSON. Cross-origin reads
// are allowed for the listed origins only.
func StatsHandler(metrics *QueueMetrics, allowedOrigins []string, logger loggingpkg.ServiceLogger) http.Handler {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if origin := allowedCORSOrigin(allowedOrigins, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		body, err := sonic.Marshal(metrics.Snapshot())
		if err != nil {
			logger.Error("Failed to encode queue statistics", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func allowedCORSOrigin(allowed []string, requestOrigin string) string {
	for _, origin := range allowed {
		if origin == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(origin, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
