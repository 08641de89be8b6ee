package utils

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const LogLevelEnvKey = "PARAKEET_LOG_LEVEL"

// NewLogger builds the JSON stdout logger every program starts from. The level
// comes from PARAKEET_LOG_LEVEL and falls back to INFO.
func NewLogger(name string) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = ""

	logLevelValue := os.Getenv(LogLevelEnvKey)
	logLevel, logLevelErr := zapcore.ParseLevel(logLevelValue)

	if logLevelErr != nil {
		logLevel = zapcore.InfoLevel
	}

	rawLog := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		logLevel,
	)).Named(name)

	if logLevelErr != nil && logLevelValue != "" {
		rawLog.With(zap.String(LogLevelEnvKey, logLevelValue)).Warn("unable to parse log level, using INFO")
	}

	return rawLog
}

type logKeyType struct{}

func LogContext(ctx context.Context, fields ...zap.Field) context.Context {
	old := GetLogContextFields(ctx)
	fields = append(old, fields...)
	return context.WithValue(ctx, logKeyType{}, fields)
}

func GetLogContextFields(ctx context.Context) []zap.Field {
	fields, ok := ctx.Value(logKeyType{}).([]zap.Field)
	if !ok {
		return nil
	}
	return fields
}

func GetLogFromContext(ctx context.Context, parentLog *zap.Logger) *zap.Logger {
	return parentLog.With(GetLogContextFields(ctx)...)
}

func LogContextWith(ctx context.Context, parentLog *zap.Logger, fields ...zap.Field) (context.Context, *zap.Logger) {
	ctx = LogContext(ctx, fields...)
	parentLog = parentLog.With(fields...)
	return ctx, parentLog
}
