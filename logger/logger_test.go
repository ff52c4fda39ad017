package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" warning "))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestFromContext(t *testing.T) {
	scoped := zap.NewNop().Named("scoped")
	ctx := ToContext(context.Background(), scoped)

	assert.Same(t, scoped, From(ctx))
	assert.Same(t, L(), From(context.Background()))
}

func TestBuildProd(t *testing.T) {
	l := build(Config{Env: "prod", Level: "warn", ServiceName: "juxction"})
	assert.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}
