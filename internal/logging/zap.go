package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tira-io/tirex-tracker/internal/model"
)

// NewLogger builds a zap logger writing to w (stderr when nil). format is
// "json" or "console"; level accepts zap level names plus "trace" and
// "critical".
func NewLogger(level, format string, w io.Writer) (*zap.Logger, error) {
	zapLevel, err := parseZapLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "console") {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zapLevel)
	return zap.New(core), nil
}

func parseZapLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zapcore.DebugLevel, nil
	case "critical":
		return zapcore.DPanicLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, err
	}
	return l, nil
}

// NewZapSink adapts l to a Sink. The component travels as a structured field.
// CRITICAL maps to DPanic so it never exits the process.
func NewZapSink(l *zap.Logger) Sink {
	return func(level model.LogLevel, component, message string) {
		f := zap.String("component", component)
		switch level {
		case model.LevelTrace, model.LevelDebug:
			l.Debug(message, f)
		case model.LevelInfo:
			l.Info(message, f)
		case model.LevelWarn:
			l.Warn(message, f)
		case model.LevelError:
			l.Error(message, f)
		default:
			l.DPanic(message, f)
		}
	}
}
