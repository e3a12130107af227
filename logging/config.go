package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// LevelTrace is below debug and is used for per-record sync tracing.
const LevelTrace = slog.LevelDebug - 4

// GetConfigFromEnv overlays LOG_LEVEL, LOG_FORMAT, ENVIRONMENT and
// LOG_ADD_SOURCE on top of base. Empty variables leave base untouched.
func GetConfigFromEnv(base Config) Config {
	return configFromLookup(base, os.Getenv)
}

func configFromLookup(base Config, getenv func(string) string) Config {
	config := base
	for key, dst := range map[string]*string{
		"LOG_LEVEL":   &config.Level,
		"LOG_FORMAT":  &config.Format,
		"ENVIRONMENT": &config.Environment,
	} {
		if v := getenv(key); v != "" {
			*dst = strings.ToLower(v)
		}
	}

	switch config.Environment {
	case EnvProduction:
		config.Format = firstNonEmpty(config.Format, "json")
		config.Level = firstNonEmpty(config.Level, "info")
		config.AddSource = false
	case EnvTest, EnvDevelopment:
		config.Format = firstNonEmpty(config.Format, "text")
		config.Level = firstNonEmpty(config.Level, "debug")
	}

	// explicit setting wins over environment defaults
	if v := getenv("LOG_ADD_SOURCE"); v != "" {
		config.AddSource = strings.EqualFold(v, "true")
	}
	return config
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// DynamicLevelVar is a level that can be changed while the process runs,
// for example from an admin endpoint.
type DynamicLevelVar struct {
	*slog.LevelVar
}

// NewDynamicLevelVar creates a level variable set to initial.
func NewDynamicLevelVar(initial slog.Level) *DynamicLevelVar {
	v := &slog.LevelVar{}
	v.Set(initial)
	return &DynamicLevelVar{LevelVar: v}
}

// SetFromString sets the level by name and reports whether the name was
// recognized.
func (d *DynamicLevelVar) SetFromString(level string) bool {
	switch level = strings.ToLower(strings.TrimSpace(level)); level {
	case "trace", "debug", "info", "warn", "warning", "error":
		d.Set(ParseLevel(level))
		return true
	default:
		return false
	}
}

// NewLoggerWithDynamicLevel creates a logger writing to w whose level can
// change at runtime. A nil w writes to stdout.
func NewLoggerWithDynamicLevel(config Config, w io.Writer) (*Logger, *DynamicLevelVar) {
	if w == nil {
		w = os.Stdout
	}
	level := NewDynamicLevelVar(ParseLevel(config.Level))
	opts := &slog.HandlerOptions{
		Level:     level.LevelVar,
		AddSource: config.AddSource,
	}
	return &Logger{Logger: slog.New(newHandler(config, w, opts))}, level
}
