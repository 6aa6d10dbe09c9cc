package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log := New(Config{ServiceName: "validation-engine"})
	assert.NotNil(t, log)
}

func TestNewDefaults(t *testing.T) {
	// Empty config falls back to development/info without panicking.
	log := New(Config{})
	assert.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(&buf),
		zapcore.InfoLevel,
	)

	log := zap.New(core).With(zap.String("service", "validation-engine"))
	log.Info("feedback accepted", zap.String("validation_id", "v-1"), zap.Int("count", 3))

	var entry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &entry)
	require.NoError(t, err)

	assert.Equal(t, "feedback accepted", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "validation-engine", entry["service"])
	assert.Equal(t, "v-1", entry["validation_id"])
	assert.Equal(t, float64(3), entry["count"]) // JSON numbers are float64
	assert.Contains(t, entry, "ts")
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, getLogLevel(tt.in).Level())
		})
	}
}
