package cmd

import (
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-kratos/kratos/v2/log"
)

// kitLogger lets the kratos loggers of txn write through a go-kit logger, so level
// filtering stays in one place.
type kitLogger struct {
	logger kitlog.Logger
}

var _ log.Logger = (*kitLogger)(nil)

func newKitLogger(logger kitlog.Logger) log.Logger {
	return &kitLogger{logger: logger}
}

func (l *kitLogger) Log(lvl log.Level, keyvals ...interface{}) error {
	switch lvl {
	case log.LevelDebug:
		return level.Debug(l.logger).Log(keyvals...)
	case log.LevelInfo:
		return level.Info(l.logger).Log(keyvals...)
	case log.LevelWarn:
		return level.Warn(l.logger).Log(keyvals...)
	default:
		return level.Error(l.logger).Log(keyvals...)
	}
}
