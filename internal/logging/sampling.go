package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with one sampler per configured level. Levels
// without an entry, and Error and above, pass through unsampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	cores = append(cores, &levelFilterCore{Core: core, exclude: cfg.Levels})
	for lvl, s := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		only := &levelFilterCore{Core: core, minLevel: lvl, maxLevel: lvl, hasMin: true, hasMax: true}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), s.Initial, s.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelFilterCore restricts a core to a level range, optionally excluding
// levels that are handled by a sampler.
type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
	maxLevel zapcore.Level
	hasMin   bool
	hasMax   bool
	exclude  map[zapcore.Level]LevelSamplingConfig
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.minLevel {
		return false
	}
	if c.hasMax && lvl > c.maxLevel {
		return false
	}
	if _, sampled := c.exclude[lvl]; sampled && lvl < zapcore.ErrorLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
		maxLevel: c.maxLevel,
		hasMin:   c.hasMin,
		hasMax:   c.hasMax,
		exclude:  c.exclude,
	}
}
