// Package logging builds the process-wide *zap.Logger: JSON in production,
// console-encoded in debug, writing to a rotating file via lumberjack and,
// when the caller asks for it, also to stderr (spec §4.8). It does not
// check whether stderr is a terminal.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	rotateMaxSizeMB  = 100
	rotateMaxBackups = 5
	rotateMaxAgeDays = 28
)

func levelFromString(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Build constructs a *zap.Logger at the given level, writing to file (a
// rotating lumberjack sink) and, if attachToStderr is true, also to
// stderr via zapcore.NewTee. If file is empty, the logger writes to
// stderr only.
func Build(level, file string, attachToStderr bool) (*zap.Logger, error) {
	atomicLevel := zap.NewAtomicLevelAt(levelFromString(level))

	var encoder zapcore.Encoder
	if level == "debug" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	var cores []zapcore.Core
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    rotateMaxSizeMB,
			MaxBackups: rotateMaxBackups,
			MaxAge:     rotateMaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), atomicLevel))
	}
	if attachToStderr || file == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomicLevel))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}
