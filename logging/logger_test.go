package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/errors"
)

func TestLoggerFormats(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment},
		{Level: "info", Format: "json", Environment: EnvProduction},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config, &buf)

			logger.Info("Info message", slog.Int("count", 42))
			logger.WithComponent(Component("crm")).Info("child message")

			assert.Contains(t, buf.String(), "Info message")
			assert.Contains(t, buf.String(), "crm")
		})
	}
}

func TestLogErrorRendersCRMError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	err := errors.NewPersistenceError(errors.OpPersist, fmt.Errorf("disk full"))
	logger.LogError(context.Background(), err, "persist failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	group, ok := line["crm_error"].(map[string]any)
	require.True(t, ok, "crm_error group missing: %s", buf.String())
	assert.Equal(t, string(errors.KindPersistence), group["kind"])
	assert.Equal(t, true, group["retryable"])
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(Config{Level: "debug", Format: "text"}, &buf)

	err := logger.LogOperation(context.Background(), Operation("sync"), Component("scheduler"), func() error {
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "operation completed")

	boom := fmt.Errorf("boom")
	err = logger.LogOperation(context.Background(), Operation("sync"), Component("scheduler"), func() error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "operation failed")
}

func TestInitInstallsDefault(t *testing.T) {
	prevSlog := slog.Default()
	prev := Default()
	t.Cleanup(func() {
		SetDefault(prev)
		slog.SetDefault(prevSlog)
	})

	var buf bytes.Buffer
	logger := Init(Config{Level: "info", Format: "json"}, &buf)
	assert.Same(t, logger, Default())

	slog.Info("via slog")
	Default().WithOperation(Operation("resolve")).Info("via package default")

	assert.Contains(t, buf.String(), "via slog")
	assert.Contains(t, buf.String(), `"operation":"resolve"`)
}

func TestDynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, levelVar := NewLoggerWithDynamicLevel(Config{Level: "info", Format: "text"}, &buf)
	logger.Debug("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, slog.LevelInfo, levelVar.Level())

	assert.True(t, levelVar.SetFromString("debug"))
	assert.Equal(t, slog.LevelDebug, levelVar.Level())
	assert.False(t, levelVar.SetFromString("loud"))
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("ENVIRONMENT", EnvProduction)
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_ADD_SOURCE", "")

	cfg := GetConfigFromEnv(Config{Format: "text", AddSource: true})
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.False(t, cfg.AddSource)
	assert.Equal(t, "text", cfg.Format)
}

func TestConfigFromLookupDefaults(t *testing.T) {
	env := map[string]string{"ENVIRONMENT": "Development", "LOG_ADD_SOURCE": "TRUE"}
	cfg := configFromLookup(Config{}, func(k string) string { return env[k] })
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
	assert.Equal(t, LevelTrace, ParseLevel("trace"))
}

func TestErrorValuer(t *testing.T) {
	v := ErrorValuer{Error: &errors.Error{
		Op:       errors.OpSync,
		Kind:     errors.KindTransport,
		Err:      fmt.Errorf("x"),
		Metadata: map[string]interface{}{"attempt": 3},
	}}
	assert.Equal(t, slog.KindGroup, v.LogValue().Kind())
}
