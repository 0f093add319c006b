package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "custom json config",
			config: &Config{
				Level:  "debug",
				Format: "json",
			},
		},
		{
			name: "console config",
			config: &Config{
				Level:  "info",
				Format: "console",
				Output: io.Discard,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.config)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "info",
		Format: "json",
		Output: buf,
	})

	logger.Info("listing served from cache")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "info", logEntry["level"])
	assert.Equal(t, "listing served from cache", logEntry["message"])
	assert.NotEmpty(t, logEntry["time"])
}

func TestLogger_Component(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "info",
		Format: "json",
		Output: buf,
	})

	child := logger.Component("listing").With().
		Str("bucket", "assets-1250000000").
		Int("pages", 2).
		Bool("cached", false).
		Logger()

	child.Info("folder listed")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "listing", logEntry["component"])
	assert.Equal(t, "assets-1250000000", logEntry["bucket"])
	assert.Equal(t, float64(2), logEntry["pages"])
	assert.Equal(t, false, logEntry["cached"])
}

func TestLogger_ErrorWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "error",
		Format: "json",
		Output: buf,
	})

	testErr := errors.New("access denied")
	logger.ErrorWith("list folder failed", testErr, map[string]interface{}{
		"bucket": "assets",
		"prefix": "img/",
	})

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "error", logEntry["level"])
	assert.Equal(t, "list folder failed", logEntry["message"])
	assert.Equal(t, "access denied", logEntry["error"])
	assert.Equal(t, "img/", logEntry["prefix"])
}

func TestLogger_Context(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{
		Level:  "info",
		Format: "json",
		Output: buf,
	})

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Info("from context")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "from context", logEntry["message"])
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	assert.Same(t, Global(), FromContext(context.Background()))
}

func TestOrGlobal(t *testing.T) {
	assert.Same(t, Global(), OrGlobal(nil))

	l := Nop()
	assert.Same(t, l, OrGlobal(l))
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFunc  func(*Logger)
		expected bool // should log or not
	}{
		{
			name:  "debug level logs debug",
			level: "debug",
			logFunc: func(l *Logger) {
				l.Debug("debug message")
			},
			expected: true,
		},
		{
			name:  "info level skips debug",
			level: "info",
			logFunc: func(l *Logger) {
				l.Debugf("prefix %q", "img/")
			},
			expected: false,
		},
		{
			name:  "warn level logs warn",
			level: "warn",
			logFunc: func(l *Logger) {
				l.WarnWith("preview failed", errors.New("timeout"), nil)
			},
			expected: true,
		},
		{
			name:  "error level skips info",
			level: "error",
			logFunc: func(l *Logger) {
				l.Info("info message")
			},
			expected: false,
		},
		{
			name:  "disabled logs nothing",
			level: "disabled",
			logFunc: func(l *Logger) {
				l.Error("error message")
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := New(&Config{
				Level:  tt.level,
				Format: "json",
				Output: buf,
			})

			tt.logFunc(logger)

			if tt.expected {
				assert.NotEmpty(t, buf.String(), "expected log output")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" debug "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func BenchmarkLogger_WithFields(b *testing.B) {
	logger := New(&Config{
		Level:  "info",
		Format: "json",
		Output: io.Discard,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.With().
			Str("component", "listing").
			Int("page", i).
			Logger().
			Info("page fetched")
	}
}
