package syncworker

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger routes cron's logr-style logging to zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

// NewCronLogger adapts a zap logger to cron.Logger.
func NewCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{logger: logger.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
