// Package middleware provides the gin middleware chain of the admission
// service: observability plumbing plus the rate-limit and quota enforcement
// points.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/propfolio/gatekeeper/internal/infrastructure/monitoring"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/errors"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

// RequestID assigns a correlation identifier to every request, honoring one
// supplied by the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(constants.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(constants.HeaderRequestID, requestID)
		c.Next()
	}
}

// Logging logs each processed request.
func Logging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		log.Info(c.Request.Context(), "Request processed",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Int64("latency_ms", latency.Milliseconds()),
			logger.String("client_ip", c.ClientIP()),
		)
	}
}

// Recovery recovers from handler panics and responds with a structured error.
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "Panic recovered", nil,
					logger.Any("panic", r),
					logger.String("path", c.Request.URL.Path),
				)
				appErr := errors.ErrServerError("internal server error")
				c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
			}
		}()
		c.Next()
	}
}

// Tracing opens a server span for each request, continuing a trace propagated
// by the client.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		propagator := propagation.TraceContext{}
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := monitoring.StartSpan(ctx, "HTTP "+c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
