package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/designer/internal/config"
	"github.com/pitabwire/designer/model"
)

// bufferLogger logs JSON lines into buf at debug level and above.
func bufferLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line %q: %v", sc.Text(), err)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		configured string
		enabled    zapcore.Level
		disabled   zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.InvalidLevel},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel},
		{"", zapcore.InfoLevel, zapcore.DebugLevel},
		{"chatty", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.configured, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.configured})
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("%s should be enabled", tt.enabled)
			}
			if tt.disabled != zapcore.InvalidLevel && logger.Core().Enabled(tt.disabled) {
				t.Errorf("%s should be disabled", tt.disabled)
			}
		})
	}
}

func TestLoggerFrom(t *testing.T) {
	fallback := zap.NewNop()
	if LoggerFrom(context.Background(), fallback) != fallback {
		t.Error("empty context should yield the fallback")
	}

	stored := zap.NewExample()
	if LoggerFrom(WithLogger(context.Background(), stored), fallback) != stored {
		t.Error("stored logger should win over the fallback")
	}
	if LoggerFrom(WithLogger(context.Background(), nil), fallback) != fallback {
		t.Error("a nil stored logger should yield the fallback")
	}
}

func TestRequestLogger_designerCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf)

	anonymous := RequestLogger(context.Background(), logger)
	anonymous.Debug("session sweep", zap.Int("dropped", 2))

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		TenantID:      "acme-labs",
		SubjectID:     "designer-7",
		CorrelationID: "corr-91",
	})
	RequestLogger(WithLogger(ctx, logger), zap.NewNop()).Warn("key selection rejected", zap.String("session_id", "s-1"))

	ctx = model.WithRequestContext(context.Background(), &model.RequestContext{
		TenantID:  "acme-labs",
		SubjectID: "designer-7",
		TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
	})
	RequestLogger(ctx, logger).Info("domain saved")

	lines := logLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3", len(lines))
	}

	if _, ok := lines[0]["tenant_id"]; ok {
		t.Errorf("sweep line carries caller fields: %v", lines[0])
	}

	rejected := lines[1]
	for key, want := range map[string]string{
		"level":          "warn",
		"msg":            "key selection rejected",
		"tenant_id":      "acme-labs",
		"subject_id":     "designer-7",
		"correlation_id": "corr-91",
		"session_id":     "s-1",
	} {
		if rejected[key] != want {
			t.Errorf("%s = %v, want %q", key, rejected[key], want)
		}
	}
	if _, ok := rejected["trace_id"]; ok {
		t.Error("trace_id logged without a trace")
	}

	if lines[2]["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("saved line trace_id = %v", lines[2]["trace_id"])
	}
}
