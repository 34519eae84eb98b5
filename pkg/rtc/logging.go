package rtc

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/streamroom/rtc_core/pkg/utils"
)

// loggerFactory routes pion's internal logging through the shared
// callback logger, so the hosting application sees ICE/DTLS noise on
// the same sink as everything else.
type loggerFactory struct {
	logger *utils.Logger
}

func newLoggerFactory(logger *utils.Logger) logging.LoggerFactory {
	return &loggerFactory{logger: logger}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{logger: f.logger, scope: scope}
}

type scopedLogger struct {
	logger *utils.Logger
	scope  string
}

func (l *scopedLogger) Trace(msg string) { l.logger.Debug("[%s] %s", l.scope, msg) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) {
	l.logger.Debug("[%s] %s", l.scope, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Debug(msg string) { l.logger.Debug("[%s] %s", l.scope, msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("[%s] %s", l.scope, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Info(msg string) { l.logger.Info("[%s] %s", l.scope, msg) }
func (l *scopedLogger) Infof(format string, args ...interface{}) {
	l.logger.Info("[%s] %s", l.scope, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Warn(msg string) { l.logger.Warn("[%s] %s", l.scope, msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn("[%s] %s", l.scope, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Error(msg string) { l.logger.Error("[%s] %s", l.scope, msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("[%s] %s", l.scope, fmt.Sprintf(format, args...))
}
