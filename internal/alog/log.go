// Package alog is the allocator's internal logging sink. It exists so
// that a host program can redirect allocator diagnostics (startup,
// idle-heap reaping, corruption reports) into its own logging
// pipeline without tcalloc depending on any particular framework.
package alog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

func init() {
	SetLogger(nil, Settings{"log.level": "warn", "log.file": ""})
}

// Logger is the interface tcalloc writes diagnostics through. Host
// programs may supply their own implementation via SetLogger.
type Logger interface {
	SetLogLevel(string)
	Fatalf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Verbosef(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Tracef(format string, v ...interface{})
	Printlf(level Level, format string, v ...interface{})
}

// Settings configures the default logger.
type Settings map[string]interface{}

// Level enumerates the allocator's log severities, ordered from most to
// least urgent.
type Level int

const (
	levelIgnore Level = iota + 1
	levelFatal
	levelError
	levelWarn
	levelInfo
	levelVerbose
	levelDebug
	levelTrace
)

var log Logger

// SetLogger installs logger as the sink for allocator diagnostics. A nil
// logger installs the default stderr logger configured from settings.
func SetLogger(logger Logger, settings Settings) Logger {
	if logger != nil {
		log = logger
		return log
	}

	level := parseLevel(settingString(settings, "log.level", "warn"))
	out := io.Writer(os.Stderr)
	if logfile := settingString(settings, "log.file", ""); logfile != "" {
		fd, err := os.OpenFile(logfile, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0660)
		if err == nil {
			out = fd
		}
	}
	log = &defaultLogger{level: level, output: out}
	return log
}

func settingString(settings Settings, key, dflt string) string {
	if settings == nil {
		return dflt
	}
	if v, ok := settings[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return dflt
}

type defaultLogger struct {
	level  Level
	output io.Writer
}

func (l *defaultLogger) SetLogLevel(level string) { l.level = parseLevel(level) }

func (l *defaultLogger) Fatalf(format string, v ...interface{}) {
	l.Printlf(levelFatal, format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...interface{}) {
	l.Printlf(levelError, format, v...)
}

func (l *defaultLogger) Warnf(format string, v ...interface{}) {
	l.Printlf(levelWarn, format, v...)
}

func (l *defaultLogger) Infof(format string, v ...interface{}) {
	l.Printlf(levelInfo, format, v...)
}

func (l *defaultLogger) Verbosef(format string, v ...interface{}) {
	l.Printlf(levelVerbose, format, v...)
}

func (l *defaultLogger) Debugf(format string, v ...interface{}) {
	l.Printlf(levelDebug, format, v...)
}

func (l *defaultLogger) Tracef(format string, v ...interface{}) {
	l.Printlf(levelTrace, format, v...)
}

func (l *defaultLogger) Printlf(level Level, format string, v ...interface{}) {
	if level > l.level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.999Z-07:00")
	fmt.Fprintf(l.output, ts+" ["+level.String()+"] "+format+"\n", v...)
}

func (l Level) String() string {
	switch l {
	case levelIgnore:
		return "IGNR"
	case levelFatal:
		return "FATL"
	case levelError:
		return "ERRO"
	case levelWarn:
		return "WARN"
	case levelInfo:
		return "INFO"
	case levelVerbose:
		return "VERB"
	case levelDebug:
		return "DEBG"
	case levelTrace:
		return "TRAC"
	}
	return "UNKN"
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "ignore":
		return levelIgnore
	case "fatal":
		return levelFatal
	case "error":
		return levelError
	case "warn":
		return levelWarn
	case "info":
		return levelInfo
	case "verbose":
		return levelVerbose
	case "debug":
		return levelDebug
	case "trace":
		return levelTrace
	}
	return levelWarn
}

// Fatalf logs at fatal level through the installed logger.
func Fatalf(format string, v ...interface{}) { log.Printlf(levelFatal, format, v...) }

// Errorf logs at error level through the installed logger.
func Errorf(format string, v ...interface{}) { log.Printlf(levelError, format, v...) }

// Warnf logs at warn level through the installed logger.
func Warnf(format string, v ...interface{}) { log.Printlf(levelWarn, format, v...) }

// Infof logs at info level through the installed logger.
func Infof(format string, v ...interface{}) { log.Printlf(levelInfo, format, v...) }

// Verbosef logs at verbose level through the installed logger.
func Verbosef(format string, v ...interface{}) { log.Printlf(levelVerbose, format, v...) }

// Debugf logs at debug level through the installed logger.
func Debugf(format string, v ...interface{}) { log.Printlf(levelDebug, format, v...) }

// Tracef logs at trace level through the installed logger.
func Tracef(format string, v ...interface{}) { log.Printlf(levelTrace, format, v...) }
