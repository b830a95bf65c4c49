package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"joingate/internal/onebot"
	"joingate/pkg/requestcontext"
)

// MaxEventBytes bounds the body of an inbound event post.
const MaxEventBytes = 1 << 20

// RequireSignature rejects posts whose X-Signature does not match the HMAC of
// the body under secret. The body is buffered and restored for the next
// handler. An empty secret admits every post.
func RequireSignature(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxEventBytes+1))
			if err != nil || len(body) > MaxEventBytes {
				logger.WarnContext(ctx, "unreadable event body", "error", err, "request_id", requestID)
				writeUnauthorized(w, logger, r, "Unreadable request body")
				return
			}

			if !onebot.VerifySignature(secret, body, r.Header.Get(onebot.SignatureHeader)) {
				logger.WarnContext(ctx, "rejected event post - invalid signature",
					"request_id", requestID,
					"remote_addr", r.RemoteAddr,
				)
				writeUnauthorized(w, logger, r, "Missing or invalid signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, logger *slog.Logger, r *http.Request, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, err := w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to write unauthorized response",
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
	}
}
