// Package logger builds the zap-backed logr.Logger every deepdbg process
// logs through. Console output always goes to stderr: stdout carries DAP
// traffic in the adapter and hook messages in the relay server.
package logger

import (
	"fmt"
	"os"
	"runtime"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvLogLevel sets the console verbosity when no flag is given.
	EnvLogLevel = "DEEPDEBUGGER_LOG_LEVEL"

	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
)

type Logger struct {
	logr.Logger
	name          string
	atomicLevel   zap.AtomicLevel
	encoderConfig zapcore.EncoderConfig
	cores         []zapcore.Core
	file          *lockedFile
	flush         func()
}

// New creates a logger writing human readable records to stderr.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if runtime.GOOS == "windows" {
		encoderConfig.LineEnding = "\r\n"
	}

	level := zap.NewAtomicLevel()
	if v, found := os.LookupEnv(EnvLogLevel); found && v != "" {
		if parsed, err := StringToLevel(v, zapcore.InfoLevel); err == nil {
			level.SetLevel(parsed)
		} else {
			fmt.Fprintf(os.Stderr, "ignoring %s: %v\n", EnvLogLevel, err)
		}
	}

	l := &Logger{
		name:          name,
		atomicLevel:   level,
		encoderConfig: encoderConfig,
		cores: []zapcore.Core{
			zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level),
		},
	}
	l.build()
	return l
}

func (l *Logger) build() {
	zapLogger := zap.New(zapcore.NewTee(l.cores...))
	l.Logger = zapr.NewLogger(zapLogger).WithName(l.name)
	l.flush = func() {
		_ = zapLogger.Sync()
	}
}

// WithLogFile adds a JSON file core shared with other deepdbg processes.
// When the file or its lock cannot be used the logger keeps logging to
// stderr and the error is returned for the caller to report.
func (l *Logger) WithLogFile(path string) error {
	if path == "" || l.file != nil {
		return nil
	}

	f, err := openLockedFile(path)
	if err != nil {
		l.Logger.Error(err, "Shared log file disabled", "path", path)
		return err
	}

	l.file = f
	l.cores = append(l.cores, zapcore.NewCore(zapcore.NewJSONEncoder(l.encoderConfig), f, l.atomicLevel))
	l.build()
	return nil
}

func (l *Logger) WithName(name string) *Logger {
	l.Logger = l.Logger.WithName(name)
	return l
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

// Flush syncs buffered records and releases the shared log file.
func (l *Logger) Flush() {
	l.flush()
	if l.file != nil {
		_ = l.file.Close()
	}
}

// Add verbosity flag to enable setting stderr log levels
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	levelVal := NewLevelFlagValue(func(level zapcore.Level) {
		l.SetLevel(level)
	})
	fs.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName, "Logging verbosity level (e.g. -v=debug). Can be one of 'debug', 'info', or 'error', or any positive integer for increasing debug verbosity.")
}
