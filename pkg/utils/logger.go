package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns the process logger. Debug mode logs human-readable lines at debug level;
// otherwise JSON at info level with ISO8601 timestamps. Every entry carries service=legalyze.
func NewLogger(debug bool) (*zap.Logger, error) {
	return loggerConfig(debug).Build(zap.Fields(zap.String("service", "legalyze")))
}

func loggerConfig(debug bool) zap.Config {
	if debug {
		return zap.NewDevelopmentConfig()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Chat streams log per request; sampling would drop failures under load.
	cfg.Sampling = nil
	return cfg
}
