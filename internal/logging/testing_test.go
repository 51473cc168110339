package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), NewRunID())

	tl.Info(ctx, "pipeline finished", zap.Int("written", 3), zap.String("output", "out.pb"))
	tl.Trace(ctx, "record flushed")

	tl.AssertLogged(t, zapcore.InfoLevel, "pipeline finished")
	tl.AssertLogged(t, TraceLevel, "record flushed")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "pipeline finished")
	tl.AssertField(t, "pipeline finished", "written", int64(3))
	tl.AssertField(t, "pipeline finished", "output", "out.pb")
	tl.AssertRunCorrelation(t, "pipeline finished")
	tl.AssertNoSecrets(t)

	tl.Reset()
	if len(tl.All()) != 0 {
		t.Fatalf("expected no entries after Reset, got %d", len(tl.All()))
	}
}

func TestTestLogger_FilterMessage(t *testing.T) {
	tl := NewTestLogger()
	tl.Warn(context.Background(), "cache miss for text")
	tl.Warn(context.Background(), "cache hit")

	if got := tl.FilterMessage("cache").Len(); got != 2 {
		t.Fatalf("FilterMessage(cache) = %d, want 2", got)
	}
}
