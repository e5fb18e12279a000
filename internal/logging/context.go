package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// RequestIDHeader carries the request id in and out of the service.
	RequestIDHeader = "X-Request-ID"

	ginLoggerKey = "logger"
)

type contextKey struct{}

// NewContext stores l in ctx.
func NewContext(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the request logger, or the default logger when none is set.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*zerolog.Logger); ok && l != nil {
			return l
		}
	}
	l := Default()
	return &l
}

// FromGin returns the logger attached by GinMiddleware.
func FromGin(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*zerolog.Logger); ok && l != nil {
			return l
		}
	}
	return FromContext(c.Request.Context())
}

// Attach makes l the request logger for both FromGin and FromContext.
func Attach(c *gin.Context, l *zerolog.Logger) {
	c.Set(ginLoggerKey, l)
	c.Request = c.Request.WithContext(NewContext(c.Request.Context(), l))
}

// GinMiddleware attaches a request-scoped logger and logs each completed request.
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		l := base.With().
			Str("component", "http").
			Str("request_id", requestID).
			Logger()

		Attach(c, &l)

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = l.Error()
		case status >= 400:
			event = l.Warn()
		default:
			event = l.Info()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}
