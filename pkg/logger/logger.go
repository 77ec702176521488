package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how the process logger is built.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // console, file or both

	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New creates a JSON logger on stdout at the given level.
func New(level string) *zap.Logger {
	return NewWithOptions(Options{Level: level, Format: "json", Output: "console"})
}

// NewWithOptions builds a zap logger writing to stdout, a rotating file, or both.
func NewWithOptions(opts Options) *zap.Logger {
	lvl, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder
	if opts.Format == "console" {
		consoleEnc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	}

	stdoutCore := zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), lvl)

	var core zapcore.Core
	switch opts.Output {
	case "file":
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileWriter(opts)), lvl)
	case "both":
		core = zapcore.NewTee(
			stdoutCore,
			zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileWriter(opts)), lvl),
		)
	default:
		core = stdoutCore
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func fileWriter(opts Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
		Compress:   true,
	}
}
