package sql

import (
	"context"
	"sort"

	"github.com/go-kratos/kratos/v2/log"
	sqldblogger "github.com/simukti/sqldb-logger"
)

type queryLogger struct {
	logger log.Logger
}

// NewQueryLogger lets sqldblogger write statement logs to a kratos logger.
func NewQueryLogger(logger log.Logger) sqldblogger.Logger {
	return &queryLogger{logger: log.With(logger, "module", "txn/sql")}
}

func (l *queryLogger) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]interface{}, 0, 2+2*len(keys))
	kv = append(kv, "msg", msg)
	for _, k := range keys {
		kv = append(kv, k, data[k])
	}
	_ = l.logger.Log(logLevel(level), kv...)
}

func logLevel(level sqldblogger.Level) log.Level {
	switch level {
	case sqldblogger.LevelError:
		return log.LevelError
	case sqldblogger.LevelInfo:
		return log.LevelInfo
	default:
		return log.LevelDebug
	}
}
