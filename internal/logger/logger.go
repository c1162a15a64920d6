package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger and adds file rotation and debug mode
type Logger struct {
	mu        sync.RWMutex
	level     zap.AtomicLevel
	baseLevel zapcore.Level
	base      *zap.Logger
	sugar     *zap.SugaredLogger
	file      *rotatingFile
}

// New creates a new logger instance. An empty filePath logs to stdout only.
func New(filePath string, maxSizeMB, maxBackups int, level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := &Logger{
		level:     zap.NewAtomicLevelAt(lvl),
		baseLevel: lvl,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}

	if filePath != "" {
		// Create log directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f := &rotatingFile{path: filePath, maxSizeMB: maxSizeMB, maxBackups: maxBackups}
		if err := f.openFile(); err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), l.level)
	l.base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zap.ErrorLevel))
	l.sugar = l.base.Sugar()
	return l, nil
}

// Printf writes a formatted message at info level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Println writes a message at info level
func (l *Logger) Println(v ...interface{}) {
	l.sugar.Info(fmt.Sprint(v...))
}

// Debug writes a debug message (only if debug mode is enabled)
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info writes an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warn writes a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Fatal writes a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.sugar.Fatalf(format, v...)
}

// SetDebug enables or disables debug mode
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if enabled {
		l.level.SetLevel(zapcore.DebugLevel)
		l.sugar.Info("Debug mode enabled")
	} else {
		l.level.SetLevel(l.baseLevel)
		l.sugar.Info("Debug mode disabled")
	}
}

// IsDebug returns whether debug mode is enabled
func (l *Logger) IsDebug() bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

// GetFilePath returns the current log file path
func (l *Logger) GetFilePath() string {
	if l.file == nil {
		return ""
	}
	return l.file.path
}

// Zap exposes the underlying logger for libraries that take one
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Global logger instance
var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// Init initializes the global logger
func Init(filePath string, maxSizeMB, maxBackups int, level string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	l, err := New(filePath, maxSizeMB, maxBackups, level)
	if err != nil {
		return err
	}

	// Close old logger if exists
	if globalLogger != nil {
		globalLogger.Close()
	}

	globalLogger = l
	zap.ReplaceGlobals(l.base)
	return nil
}

// Get returns the global logger instance
func Get() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Global convenience functions
func Printf(format string, v ...interface{}) {
	if l := Get(); l != nil {
		l.Printf(format, v...)
	}
}

func Println(v ...interface{}) {
	if l := Get(); l != nil {
		l.Println(v...)
	}
}

func Debug(format string, v ...interface{}) {
	if l := Get(); l != nil {
		l.Debug(format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if l := Get(); l != nil {
		l.Info(format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if l := Get(); l != nil {
		l.Warn(format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if l := Get(); l != nil {
		l.Error(format, v...)
	}
}

func Fatal(format string, v ...interface{}) {
	if l := Get(); l != nil {
		l.Fatal(format, v...)
	}
	os.Exit(1)
}

func SetDebug(enabled bool) {
	if l := Get(); l != nil {
		l.SetDebug(enabled)
	}
}

func IsDebug() bool {
	if l := Get(); l != nil {
		return l.IsDebug()
	}
	return false
}
