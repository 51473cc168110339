package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampledLogger(levels map[zapcore.Level]LevelSamplingConfig) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels:  levels,
	})
	return &Logger{zap: zap.New(sampled), config: NewDefaultConfig()}, observed
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	logger, observed := sampledLogger(DefaultLevelSamplingConfig())
	for range 500 {
		logger.Error(context.Background(), "error message")
	}
	assert.Equal(t, 500, observed.FilterMessage("error message").Len())
}

func TestNewSampledCore_PerLevel(t *testing.T) {
	logger, observed := sampledLogger(map[zapcore.Level]LevelSamplingConfig{
		zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
		zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
	})
	ctx := context.Background()
	for range 20 {
		logger.Info(ctx, "info message")
		logger.Debug(ctx, "debug message")
		logger.Warn(ctx, "warn message")
	}

	assert.Equal(t, 5, observed.FilterMessage("info message").Len())
	assert.Equal(t, 2, observed.FilterMessage("debug message").Len())
	assert.Equal(t, 20, observed.FilterMessage("warn message").Len(), "unconfigured levels pass through")
}

func TestLevelFilterCore_With(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	f := &levelFilterCore{Core: core, minLevel: zapcore.WarnLevel, hasMin: true}
	logger := zap.New(f.With([]zapcore.Field{zap.String("k", "v")}))

	logger.Info("dropped")
	logger.Warn("kept")
	logs := observed.All()
	if assert.Len(t, logs, 1) {
		assert.Equal(t, "v", logs[0].ContextMap()["k"])
	}
}
