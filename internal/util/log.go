// Package util holds the process-wide logger and traffic counters.
package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr unless redirected with SetLogOutput.

func LogTrace(format string, args ...interface{}) {
	pterm.DefaultLogger.Trace(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// LogScoped logs msg at level with a "scope" argument. It serves components
// that bring their own logger interface, such as pion.
func LogScoped(level pterm.LogLevel, scope, msg string) {
	l := pterm.DefaultLogger
	args := l.Args("scope", scope)
	switch level {
	case pterm.LogLevelTrace:
		l.Trace(msg, args)
	case pterm.LogLevelDebug:
		l.Debug(msg, args)
	case pterm.LogLevelInfo:
		l.Info(msg, args)
	case pterm.LogLevelWarn:
		l.Warn(msg, args)
	default:
		l.Error(msg, args)
	}
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// EnableTrace shows everything, including pion's trace output.
func EnableTrace() {
	pterm.DefaultLogger.Level = pterm.LogLevelTrace
}

// DebugEnabled reports whether debug messages are shown.
func DebugEnabled() bool {
	lvl := pterm.DefaultLogger.Level
	return lvl != pterm.LogLevelDisabled && lvl <= pterm.LogLevelDebug
}

// SetLogOutput redirects log output, e.g. to io.Discard in tests.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
