package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/ziflex/lecho/v3"
)

const (
	serviceName       = "lncheckout"
	logFileTimeFormat = "2006-01-02"
)

var levels = map[string]log.Lvl{
	"debug": log.DEBUG,
	"info":  log.INFO,
	"warn":  log.WARN,
	"error": log.ERROR,
	"off":   log.OFF,
}

// Logger writes JSON lines to stdout, or to a dated file when logFilePath is set.
// Unknown levels fall back to info.
func Logger(logFilePath, level string) *lecho.Logger {
	lvl, err := ParseLevel(level)
	logger := lecho.New(
		os.Stdout,
		lecho.WithLevel(lvl),
		lecho.WithTimestamp(),
		lecho.WithField("service", serviceName),
	)
	if err != nil {
		logger.Warnf("%v, using info", err)
	}
	if logFilePath != "" {
		file, err := OpenLogFile(logFilePath, time.Now())
		if err != nil {
			logger.Errorf("failed to open log file, logging to stdout: %v", err)
			return logger
		}
		logger.SetOutput(file)
	}
	return logger
}

func ParseLevel(level string) (log.Lvl, error) {
	if level == "" {
		return log.INFO, nil
	}
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		return log.INFO, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// LogFileName dates path: a directory gets lncheckout-<date>.log, a file gets
// the date before its extension.
func LogFileName(path string, now time.Time) string {
	date := now.Format(logFileTimeFormat)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, serviceName+"-"+date+".log")
	}
	extension := filepath.Ext(path)
	return strings.TrimSuffix(path, extension) + "-" + date + extension
}

// OpenLogFile appends to the dated log file, so restarts on the same day share it.
func OpenLogFile(path string, now time.Time) (*os.File, error) {
	return os.OpenFile(LogFileName(path, now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
