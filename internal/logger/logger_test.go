package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestInitLevels(t *testing.T) {
	t.Cleanup(func() { Log = zap.NewNop() })

	Init("debug")
	assert.True(t, Log.Core().Enabled(zap.DebugLevel))

	Init("warn")
	assert.False(t, Log.Core().Enabled(zap.InfoLevel))
	assert.True(t, Log.Core().Enabled(zap.WarnLevel))

	Init("nonsense")
	assert.True(t, Log.Core().Enabled(zap.InfoLevel))
	assert.False(t, Log.Core().Enabled(zap.DebugLevel))
}

func TestNamedBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() { Named("test").Info("no init yet") })
}
