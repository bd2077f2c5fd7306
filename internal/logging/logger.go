// Package logging provides structured logging utilities.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats accepted by New.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Options selects where and how the service logs.
type Options struct {
	Service string
	Level   string
	// Format is FormatJSON or FormatPretty. Ignored when File is set.
	Format string
	// File, when set, sends JSON logs to a rotated file instead of stdout.
	File string
	// MaxSizeMB, MaxBackups and MaxAgeDays bound file rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the service logger described by opts.
func New(opts Options) zerolog.Logger {
	switch {
	case opts.File != "":
		return NewFileLogger(opts)
	case strings.EqualFold(opts.Format, FormatPretty):
		return NewPrettyLogger(opts.Service, opts.Level)
	default:
		return NewLogger(opts.Service, opts.Level)
	}
}

// NewLogger creates a new zerolog logger configured for the service.
func NewLogger(serviceName string, level string) zerolog.Logger {
	return newLogger(os.Stdout, serviceName, level)
}

// NewPrettyLogger creates a logger with pretty console output (for development).
func NewPrettyLogger(serviceName string, level string) zerolog.Logger {
	return newLogger(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, serviceName, level)
}

// NewFileLogger writes JSON logs to opts.File, rotating by size.
func NewFileLogger(opts Options) zerolog.Logger {
	w := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    defaultInt(opts.MaxSizeMB, 100),
		MaxBackups: defaultInt(opts.MaxBackups, 5),
		MaxAge:     defaultInt(opts.MaxAgeDays, 28),
		Compress:   true,
	}
	return newLogger(w, opts.Service, opts.Level)
}

func newLogger(w io.Writer, serviceName, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// LockLogger creates a logger for operations on one lock key.
func LockLogger(logger zerolog.Logger, key string) zerolog.Logger {
	return logger.With().
		Str("lockKey", key).
		Logger()
}

// JobLogger creates a logger for one run of a work unit.
func JobLogger(logger zerolog.Logger, class string, workerID string) zerolog.Logger {
	return logger.With().
		Str("class", class).
		Str("workerId", workerID).
		Logger()
}

// RequestLogger returns a Gin middleware for HTTP request logging.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		statusCode := c.Writer.Status()
		event := logger.Info()
		if statusCode >= 400 && statusCode < 500 {
			event = logger.Warn()
		} else if statusCode >= 500 {
			event = logger.Error()
		}

		event.
			Str("type", "http_request").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", statusCode).
			Str("clientIp", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Int("bodySize", c.Writer.Size())

		if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
			event.Str("requestId", requestID)
		}
		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.String())
		}

		event.Msg("HTTP request")
	}
}

// GRPCLogger returns a gRPC unary server interceptor for request logging.
func GRPCLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		grpcEvent(logger, err).
			Str("type", "grpc_request").
			Str("method", info.FullMethod).
			Dur("latency", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

// GRPCStreamLogger returns a gRPC stream server interceptor for request logging.
func GRPCStreamLogger(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		grpcEvent(logger, err).
			Str("type", "grpc_stream").
			Str("method", info.FullMethod).
			Bool("serverStream", info.IsServerStream).
			Dur("latency", time.Since(start)).
			Msg("gRPC stream")
		return err
	}
}

func grpcEvent(logger zerolog.Logger, err error) *zerolog.Event {
	if err == nil {
		return logger.Info().Str("code", codes.OK.String())
	}
	code := codes.Unknown
	if s, ok := status.FromError(err); ok {
		code = s.Code()
	}
	// Health watchers are cancelled on every shutdown.
	if code == codes.Canceled {
		return logger.Debug().Str("code", code.String()).Err(err)
	}
	return logger.Error().Str("code", code.String()).Err(err)
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// LoggerFromContext extracts the logger from context.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}
