package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"joingate/internal/captcha/config"
	"joingate/internal/captcha/models"
	challengestore "joingate/internal/captcha/store/challenge"
)

func TestService_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	cfg := config.DefaultConfig()
	cfg.GuildIDs = []models.GroupID{testGroup}
	platform := &recordingPlatform{}
	svc, err := New(challengestore.NewInMemoryStore(), newManualScheduler(), platform, platform,
		WithConfig(cfg),
		WithTracer(tp.Tracer("test")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPuzzleGenerator(PuzzleFunc(func() models.Puzzle { return models.Puzzle{A: 1, B: 1} })),
	)
	require.NoError(t, err)

	_, err = svc.OnMemberJoined(context.Background(), testSubject, testGroup)
	require.NoError(t, err)
	_, err = svc.OnMessage(context.Background(), models.MessageEvent{Subject: testSubject, Group: testGroup, Content: "2"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "captcha.member_joined", spans[0].Name())
	assert.Equal(t, "captcha.message", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), attribute.String("captcha.outcome", string(models.OutcomeVerified)))
	assert.Contains(t, spans[1].Attributes(), attribute.String("captcha.subject", string(testSubject)))
}
