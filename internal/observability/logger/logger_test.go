package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFrom_ScopedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	scoped := zap.New(core).With(Component("keymanager"))

	ctx := ToContext(context.Background(), scoped)
	From(ctx).Info("signing key created", KeyID("abc"), Alg("RS256"), Age(time.Minute))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	require.Equal(t, "keymanager", fields["component"])
	require.Equal(t, "abc", fields["kid"])
	require.Equal(t, "RS256", fields["alg"])
}

func TestFrom_FallsBackToProcessLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	From(context.Background()).Debug("hola")
	Named("cache").Info("chau")

	require.Equal(t, 2, logs.Len())
	require.Equal(t, "cache", logs.All()[1].LoggerName)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	require.Equal(t, zapcore.WarnLevel, parseLevel(" warning "))
	require.Equal(t, zapcore.InfoLevel, parseLevel("otro"))
}
