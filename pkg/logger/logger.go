// pkg/logger/logger.go
package logger

import (
	"context"

	"go.uber.org/zap"
)

type Sugared = *zap.SugaredLogger

type ctxKey struct{}

func New(env string) Sugared {
	var z *zap.Logger
	if env == "prod" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar()
}

// Nop returns a logger that discards everything (tests, tooling).
func Nop() Sugared { return zap.NewNop().Sugar() }

// WithRequestID stores a request-scoped child logger in ctx.
func WithRequestID(ctx context.Context, log Sugared, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, log.With("request_id", requestID))
}

// FromContext returns the request-scoped logger, or fallback when none was attached.
func FromContext(ctx context.Context, fallback Sugared) Sugared {
	if l, ok := ctx.Value(ctxKey{}).(Sugared); ok && l != nil {
		return l
	}
	return fallback
}
