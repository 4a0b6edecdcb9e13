package livemigrate

import (
	"go.uber.org/zap"

	"github.com/graftwork/livemigrate/pkg/events"
)

// Logger is the leveled, key-value logging interface the engine and its
// collaborators are handed: a message plus alternating key/value pairs,
// gated by level rather than a format string.
type Logger interface {
	Log(level events.AlertLevel, msg string, keysAndValues ...interface{})
}

// zapLogger backs Logger with zap's SugaredLogger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap.SugaredLogger to Logger.
func NewZapLogger(sugar *zap.SugaredLogger) Logger {
	return zapLogger{sugar: sugar}
}

func (l zapLogger) Log(level events.AlertLevel, msg string, keysAndValues ...interface{}) {
	switch level {
	case events.LevelDebug:
		l.sugar.Debugw(msg, keysAndValues...)
	case events.LevelError:
		l.sugar.Errorw(msg, keysAndValues...)
	default:
		l.sugar.Warnw(msg, keysAndValues...)
	}
}

// noopLogger discards everything; used when a caller builds an Engine
// without supplying a Logger.
type noopLogger struct{}

func (noopLogger) Log(events.AlertLevel, string, ...interface{}) {}
