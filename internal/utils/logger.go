// Package utils holds process-wide helpers shared by every layer, most notably the logger.
package utils

import (
	"os"
	"strings"
	"sync"

	chlog "github.com/charmbracelet/log"
)

// Logger is the application-wide structured logger.
var Logger *chlog.Logger

const (
	debugLevel = "debug"
	infoLevel  = "info"
	warnLevel  = "warn"
	errorLevel = "error"
)

// InitLogger initializes the global logger with level from QUEUEPILOT_LOG_LEVEL.
// Valid levels: debug, info, warn, error.
func InitLogger() {
	initOnce.Do(initLogger)
}

var initOnce sync.Once

func initLogger() {
	if Logger != nil {
		return
	}
	l := chlog.New(os.Stdout)
	l.SetTimeFormat("2006-01-02 15:04:05.000")
	l.SetReportTimestamp(true)
	if strings.EqualFold(os.Getenv("QUEUEPILOT_LOG_FORMAT"), "json") {
		l.SetFormatter(chlog.JSONFormatter)
	}
	l.SetLevel(parseLevel(os.Getenv("QUEUEPILOT_LOG_LEVEL")))
	Logger = l
}

// SetLogLevel allows changing level at runtime.
func SetLogLevel(level string) {
	if Logger == nil {
		InitLogger()
	}
	Logger.SetLevel(parseLevel(level))
}

func parseLevel(level string) chlog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case debugLevel:
		return chlog.DebugLevel
	case warnLevel:
		return chlog.WarnLevel
	case errorLevel:
		return chlog.ErrorLevel
	case infoLevel:
		return chlog.InfoLevel
	default:
		return chlog.InfoLevel
	}
}
