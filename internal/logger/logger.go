package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log = zap.NewNop()

// Init replaces the global logger with a JSON logger at the given level.
// Unknown levels fall back to info.
func Init(level string) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zap.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Encoding:         "json",
		Level:            zap.NewAtomicLevelAt(lvl),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    enc,
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = l
}

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger {
	return Log.Named(component)
}

// Sync flushes buffered entries; errors from syncing stdout are ignored.
func Sync() {
	_ = Log.Sync()
}
