package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggingProvider records every call with latency and token usage.
type LoggingProvider struct {
	inner  Provider
	name   string
	logger *zap.Logger
}

// WithLogging wraps p; name identifies the backend in log lines.
func WithLogging(p Provider, name string, logger *zap.Logger) Provider {
	return &LoggingProvider{inner: p, name: name, logger: logger.Named("llm")}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)

	fields := []zap.Field{
		zap.String("provider", l.name),
		zap.String("model", l.inner.ModelID()),
		zap.String("purpose", PurposeFrom(ctx)),
		zap.Duration("latency", time.Since(start)),
		zap.Bool("success", err == nil),
	}
	if resp != nil {
		fields = append(fields,
			zap.String("served_by", resp.Model),
			zap.Int("input_tokens", resp.Usage.InputTokens),
			zap.Int("output_tokens", resp.Usage.OutputTokens),
		)
	}
	if err != nil {
		l.logger.Warn("llm request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	l.logger.Info("llm request", fields...)
	return resp, nil
}

func (l *LoggingProvider) ModelID() string { return l.inner.ModelID() }
