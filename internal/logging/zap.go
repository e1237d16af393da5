package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures a ZapLogger.
type Config struct {
	// Level is the minimum level written
	Level Level

	// Format is "json" or "console"
	Format string

	// File is the log file path; empty writes to stderr
	File string

	// MaxSize is the size in megabytes at which the file is rotated
	MaxSize int

	// MaxBackups is the number of rotated files kept
	MaxBackups int

	// MaxAge is the number of days rotated files are kept
	MaxAge int

	// Compress gzips rotated files
	Compress bool
}

// DefaultConfig returns a console logger at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     "console",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// ZapLogger adapts a zap.Logger to the Logger interface.
type ZapLogger struct {
	z      *zap.Logger
	closer io.Closer
}

// NewZapLogger builds a zap-backed logger. When cfg.File is set, output is
// rotated by lumberjack.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var (
		ws     zapcore.WriteSyncer
		closer io.Closer
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		ws = zapcore.AddSync(lj)
		closer = lj
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(enc, ws, zapLevel(cfg.Level))
	return &ZapLogger{z: zap.New(core), closer: closer}, nil
}

// NewZapLoggerFrom wraps an existing zap.Logger.
func NewZapLoggerFrom(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z: z}
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func zapFields(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

// Debug implements Logger.
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	l.z.Debug(msg, zapFields(fields)...)
}

// Info implements Logger.
func (l *ZapLogger) Info(msg string, fields ...Field) {
	l.z.Info(msg, zapFields(fields)...)
}

// Warn implements Logger.
func (l *ZapLogger) Warn(msg string, fields ...Field) {
	l.z.Warn(msg, zapFields(fields)...)
}

// Error implements Logger.
func (l *ZapLogger) Error(msg string, fields ...Field) {
	l.z.Error(msg, zapFields(fields)...)
}

// Zap returns the underlying zap.Logger.
func (l *ZapLogger) Zap() *zap.Logger {
	return l.z
}

// Close flushes buffered entries and closes the log file, if any.
func (l *ZapLogger) Close() error {
	// Sync on a terminal stderr returns EINVAL on some platforms; ignore it.
	_ = l.z.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
