package engine

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"

	"github.com/1ureka/sorasig/internal/util"
)

// loggerFactory routes pion's internal logging into the pterm logger.
// pion's info output is demoted to debug; it is chatty during ICE.
type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return scopedLogger{scope: "pion/" + scope}
}

type scopedLogger struct {
	scope string
}

var _ logging.LeveledLogger = scopedLogger{}

func (l scopedLogger) log(level pterm.LogLevel, msg string) {
	util.LogScoped(level, l.scope, msg)
}

func (l scopedLogger) Trace(msg string) { l.log(pterm.LogLevelTrace, msg) }
func (l scopedLogger) Debug(msg string) { l.log(pterm.LogLevelDebug, msg) }
func (l scopedLogger) Info(msg string)  { l.log(pterm.LogLevelDebug, msg) }
func (l scopedLogger) Warn(msg string)  { l.log(pterm.LogLevelWarn, msg) }
func (l scopedLogger) Error(msg string) { l.log(pterm.LogLevelError, msg) }

func (l scopedLogger) Tracef(format string, args ...interface{}) { l.Trace(fmt.Sprintf(format, args...)) }
func (l scopedLogger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l scopedLogger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l scopedLogger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l scopedLogger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
