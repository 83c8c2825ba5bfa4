package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loggerName prefixes every logger built by NewLogger.
const loggerName = "kensaku"

// NewLogger returns a named zap logger. Debug selects the development config
// (console, debug level, stack traces on warn); otherwise JSON at info level
// with ISO-8601 timestamps and no stack traces.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg.DisableStacktrace = true
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(loggerName), nil
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// TenantLogger scopes logger to one tenant. A nil logger yields a no-op.
func TenantLogger(logger *zap.Logger, tenantID string) *zap.Logger {
	return OrNop(logger).With(zap.String("tenant_id", tenantID))
}
