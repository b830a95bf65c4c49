package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	t.Run("falls back to wall clock", func(t *testing.T) {
		before := time.Now()
		now := Now(context.Background())
		assert.False(t, now.Before(before))
	})

	t.Run("returns injected time", func(t *testing.T) {
		fixed := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
		ctx := WithTime(context.Background(), fixed)
		assert.Equal(t, fixed, Now(ctx))
	})
}

func TestRequestScopedStrings(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, SelfID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSelfID(ctx, "10001")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "10001", SelfID(ctx))
}
