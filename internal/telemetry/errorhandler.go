package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// errorHandler logs SDK errors (failed exports, dropped spans) at Error level.
// An unreachable collector fails every batch, so output is rate limited and
// the number of suppressed errors is reported with the next logged one.
type errorHandler struct {
	logger     *logging.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func newErrorHandler(logger *logging.Logger) *errorHandler {
	return &errorHandler{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

// Handle implements otel.ErrorHandler.
func (h *errorHandler) Handle(err error) {
	if err == nil {
		return
	}
	if !h.limiter.Allow() {
		h.suppressed.Add(1)
		return
	}
	fields := []zap.Field{zap.Error(err)}
	if n := h.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("suppressed", n))
	}
	h.logger.Error(context.Background(), "opentelemetry error", fields...)
}
