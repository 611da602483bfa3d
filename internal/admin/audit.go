package admin

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxAuditBodyBytes = 1024

// RequestIDHeader carries the audit correlation ID back to the caller.
const RequestIDHeader = "X-Request-ID"

// AuditMiddleware logs every mutating request with its outcome. Reads pass
// through untouched.
func AuditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		var body string
		if r.Body != nil {
			raw, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
			if err == nil {
				body = string(raw)
				if len(raw) > maxAuditBodyBytes {
					body = string(raw[:maxAuditBodyBytes]) + "...(truncated)"
				}
				r.Body = io.NopCloser(bytes.NewReader(raw))
			}
		}

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		auditLogger.Info("admin API audit",
			"request_id", requestID,
			"remote_addr", extractClientIP(r),
			"method", r.Method,
			"path", r.URL.Path,
			"body", body,
			"status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.written = true
	return sw.ResponseWriter.Write(b)
}
