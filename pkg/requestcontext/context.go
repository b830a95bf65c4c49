// Package requestcontext provides HTTP-independent context accessors for
// event-scoped values.
//
// Values are typically set by the ingress middleware but consumed by the
// challenge engine, which must not depend on net/http.
//
// Usage in the engine (read values):
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	selfIDKey      struct{}
)

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// SelfID retrieves the bot account that received the event.
func SelfID(ctx context.Context) string {
	if selfID, ok := ctx.Value(selfIDKey{}).(string); ok {
		return selfID
	}
	return ""
}

// WithSelfID injects the receiving bot account into the context.
func WithSelfID(ctx context.Context, selfID string) context.Context {
	return context.WithValue(ctx, selfIDKey{}, selfID)
}

// Now retrieves the event-scoped time from context.
// Falls back to time.Now() if not set (timer actions, workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
