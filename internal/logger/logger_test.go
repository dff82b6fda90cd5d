package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		for _, level := range []string{"none", "debug", "info", "warn", "error"} {
			l, err := NewLogger(format, level)
			require.NoError(t, err, "%s/%s", format, level)
			require.NotNil(t, l)
		}
	}

	_, err := NewLogger("text", "loud")
	require.Error(t, err)

	_, err = NewLogger("xml", "info")
	require.Error(t, err)

	require.Panics(t, func() { MustNewLogger("text", "loud") })
}

func TestWithAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := (&ZapLogger{zap.New(core)}).With(zap.Int("rank", 3))

	l.InfoWithContext(context.Background(), "hello")
	l.Debug("dbg")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "hello", entries[0].Message)
	require.Equal(t, int64(3), entries[0].ContextMap()["rank"])
}
