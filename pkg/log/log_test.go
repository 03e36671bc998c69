package log

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInit(t *testing.T) {
	original := SetLogger(nil)
	defer SetLogger(original)

	t.Run("TextFormatAndLevel", func(t *testing.T) {
		require.NoError(t, Init(Config{Level: "warn", Format: "text", Output: "stdout"}))
		l := GetLogger()
		assert.Equal(t, logrus.WarnLevel, l.Level)
		_, ok := l.Formatter.(*logrus.TextFormatter)
		assert.True(t, ok)
	})

	t.Run("JSONFormat", func(t *testing.T) {
		require.NoError(t, Init(Config{Level: "debug", Format: "json"}))
		_, ok := GetLogger().Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok)
	})

	t.Run("InvalidLevelFallsBackToInfo", func(t *testing.T) {
		require.NoError(t, Init(Config{Level: "verbose"}))
		assert.Equal(t, logrus.InfoLevel, GetLogger().Level)
	})

	t.Run("FileOutputCreatesDirectory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "storefront.log")
		require.NoError(t, Init(Config{
			Level:    "info",
			Format:   "json",
			Output:   "file",
			Filename: logFile,
			MaxSize:  1,
		}))
		Info("written to file")

		_, err := os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	original := SetLogger(l)
	defer SetLogger(original)

	WithFields(Fields{"purchase_id": 7, "user_id": "u-1"}).Info("purchase committed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "purchase committed", entry["msg"])
	assert.Equal(t, float64(7), entry["purchase_id"])
	assert.Equal(t, "u-1", entry["user_id"])
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	original := SetLogger(l)
	defer SetLogger(original)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	WithContext(ctx).Info("traced")
	WithContext(context.Background()).Info("untraced")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var traced, untraced map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &traced))
	require.NoError(t, json.Unmarshal(lines[1], &untraced))
	assert.Equal(t, traceID.String(), traced["trace_id"])
	assert.Equal(t, spanID.String(), traced["span_id"])
	assert.NotContains(t, untraced, "trace_id")
}
