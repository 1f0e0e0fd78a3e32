package kafka

import (
	chlog "github.com/charmbracelet/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// kgoLogger forwards franz-go client logs to the application logger. kgo's info level is
// chatty, so it is only enabled when the application logs at debug.
type kgoLogger struct {
	l *chlog.Logger
}

func newLogger(l *chlog.Logger) kgo.Logger {
	return kgoLogger{l: l.WithPrefix("kafka")}
}

func (k kgoLogger) Level() kgo.LogLevel {
	switch k.l.GetLevel() {
	case chlog.DebugLevel:
		return kgo.LogLevelDebug
	case chlog.ErrorLevel:
		return kgo.LogLevelError
	default:
		return kgo.LogLevelWarn
	}
}

func (k kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	k.l.Log(toLevel(level), msg, keyvals...)
}

func toLevel(level kgo.LogLevel) chlog.Level {
	switch level {
	case kgo.LogLevelError:
		return chlog.ErrorLevel
	case kgo.LogLevelWarn:
		return chlog.WarnLevel
	case kgo.LogLevelInfo:
		return chlog.InfoLevel
	default:
		return chlog.DebugLevel
	}
}
