// Package log provides a global logger with configurable logging level.
//
// Output always goes to stderr; stdout is reserved for the MCP stdio transport.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anamolies that are not expected to occur during normal use.
	LevelWarning              // Logs anamolies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var zapLevels = map[Level]zapcore.Level{
	LevelNone:    zapcore.FatalLevel + 1,
	LevelError:   zapcore.ErrorLevel,
	LevelWarning: zapcore.WarnLevel,
	LevelInfo:    zapcore.InfoLevel,
	LevelDebug:   zapcore.DebugLevel,
}

var (
	logMutex       sync.Mutex
	globalLogLevel Level
	atomicLevel    = zap.NewAtomicLevelAt(zapLevels[LevelNone])
	logger         = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *zap.SugaredLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(zapcore.AddSync(w)), atomicLevel)
	return zap.New(core).Sugar()
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	zl, ok := zapLevels[level]
	if !ok {
		zl = zapcore.DebugLevel
	}
	globalLogLevel = level
	atomicLevel.SetLevel(zl)
}

// SetOutput redirects log output to w. Tests use it to capture messages.
func SetOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logger = newLogger(w)
}

func currentLogger() *zap.SugaredLogger {
	logMutex.Lock()
	defer logMutex.Unlock()
	return logger
}

func logLevel() Level {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLogLevel
}

// Enabled reports whether messages at level are emitted.
func Enabled(level Level) bool {
	return level != LevelNone && level <= logLevel()
}

func Debug(format string, a ...interface{}) {
	if Enabled(LevelDebug) {
		currentLogger().Debug(fmt.Sprintf(format, a...))
	}
}

func Info(format string, a ...interface{}) {
	currentLogger().Infof(format, a...)
}

func Warning(format string, a ...interface{}) {
	currentLogger().Warnf(format, a...)
}

func Error(format string, a ...interface{}) {
	currentLogger().Errorf(format, a...)
}
