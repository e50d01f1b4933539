// Package logging wraps logrus in a context-aware structured logger
// and owns the OpenTelemetry tracing setup plus the request-scoped gin
// middleware (request ids, tracing spans, access logs).
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Logger is the logging interface used across the gateway. Every level
// method takes the request context so entries pick up the request id,
// subject and active span automatically.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Fatal(ctx context.Context, msg string, fields ...Field)

	// WithField returns a derived logger carrying the field on every
	// entry, used to tag component loggers at construction.
	WithField(key string, value interface{}) Logger
}

type Field struct {
	Key   string
	Value interface{}
}

type LogConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"` // "json" or "text"
	Output      string `json:"output"` // "stdout", "stderr", or file path
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`

	TracingEnabled bool    `json:"tracing_enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	TracingSampler float64 `json:"tracing_sampler"`
}

// Context keys set by the middleware below.
const (
	RequestIDKey = "request_id"
	SubjectKey   = "subject"
)

var (
	defaultLogger Logger
	tracer        oteltrace.Tracer
)

type structuredLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewStructuredLogger builds the process logger. An unparseable level
// falls back to info rather than failing boot over a typo.
func NewStructuredLogger(config *LogConfig) (Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	switch config.Output {
	case "stderr":
		logger.SetOutput(os.Stderr)
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(file)
	}

	sl := &structuredLogger{
		logger: logger,
		fields: logrus.Fields{
			"service":     config.ServiceName,
			"version":     config.Version,
			"environment": config.Environment,
		},
	}

	if config.TracingEnabled {
		if err := initTracing(config); err != nil {
			sl.Warn(context.Background(), "Failed to initialize tracing", Error("error", err))
		} else {
			tracer = otel.Tracer(config.ServiceName)
		}
	}

	defaultLogger = sl
	return sl, nil
}

// NewTestLogger returns a logger that discards all output. Intended for
// tests that need a Logger but no log assertions.
func NewTestLogger() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &structuredLogger{logger: logger, fields: logrus.Fields{}}
}

func initTracing(config *LogConfig) error {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return fmt.Errorf("failed to initialize Jaeger exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.Version),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		)),
		trace.WithSampler(trace.TraceIDRatioBased(config.TracingSampler)),
	)

	otel.SetTracerProvider(tp)
	return nil
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.DebugLevel, msg, fields...)
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.InfoLevel, msg, fields...)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.WarnLevel, msg, fields...)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.ErrorLevel, msg, fields...)
}

func (l *structuredLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.FatalLevel, msg, fields...)
}

func (l *structuredLogger) WithField(key string, value interface{}) Logger {
	fields := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &structuredLogger{logger: l.logger, fields: fields}
}

func (l *structuredLogger) log(ctx context.Context, level logrus.Level, msg string, fields ...Field) {
	entry := l.logger.WithFields(l.fields).WithFields(contextFields(ctx))

	if pc, file, line, ok := runtime.Caller(2); ok {
		entry = entry.WithFields(logrus.Fields{
			"caller":   fmt.Sprintf("%s:%d", file, line),
			"function": runtime.FuncForPC(pc).Name(),
		})
	}
	for _, field := range fields {
		entry = entry.WithField(field.Key, field.Value)
	}

	entry.Log(level, msg)

	// Errors mark the surrounding span so traces and logs agree on
	// which requests went wrong.
	if ctx != nil && level <= logrus.ErrorLevel {
		if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
			span.SetStatus(codes.Error, msg)
			span.SetAttributes(attribute.String("log.level", level.String()))
		}
	}
}

// contextFields extracts the per-request correlation fields stashed by
// the middleware and the active trace ids.
func contextFields(ctx context.Context) logrus.Fields {
	if ctx == nil {
		return nil
	}
	fields := logrus.Fields{}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		fields["request_id"] = requestID
	}
	if subject, ok := ctx.Value(SubjectKey).(string); ok {
		fields["subject"] = subject
	}
	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	return fields
}

// RequestLoggingMiddleware emits one structured entry per completed
// HTTP request, levelled by status code. Probe and scrape endpoints
// are skipped; kubelets and prometheus would otherwise dominate the
// log volume.
func RequestLoggingMiddleware(logger Logger) gin.HandlerFunc {
	quiet := map[string]bool{
		"/health/live":  true,
		"/health/ready": true,
		"/metrics":      true,
	}

	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		if quiet[param.Path] && param.StatusCode < 400 {
			return ""
		}
		ctx := param.Request.Context()

		fields := []Field{
			{Key: "client_ip", Value: param.ClientIP},
			{Key: "method", Value: param.Method},
			{Key: "path", Value: param.Path},
			{Key: "status_code", Value: param.StatusCode},
			{Key: "latency", Value: param.Latency.String()},
			{Key: "user_agent", Value: param.Request.UserAgent()},
			{Key: "response_size", Value: param.BodySize},
		}
		if param.ErrorMessage != "" {
			fields = append(fields, Field{Key: "error", Value: param.ErrorMessage})
		}

		switch {
		case param.StatusCode >= 500:
			logger.Error(ctx, "HTTP request completed", fields...)
		case param.StatusCode >= 400:
			logger.Warn(ctx, "HTTP request completed", fields...)
		default:
			logger.Info(ctx, "HTTP request completed", fields...)
		}

		return ""
	})
}

// RequestIDMiddleware honors an inbound X-Request-ID or mints one, and
// makes it available to handlers, the logger and the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		ctx := context.WithValue(c.Request.Context(), RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TracingMiddleware opens a span per request when tracing is enabled.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tracer == nil {
			c.Next()
			return
		}

		spanName := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
		ctx, span := tracer.Start(c.Request.Context(), spanName)
		defer span.End()

		span.SetAttributes(
			semconv.HTTPMethodKey.String(c.Request.Method),
			semconv.HTTPURLKey.String(c.Request.URL.String()),
			semconv.HTTPUserAgentKey.String(c.Request.UserAgent()),
			semconv.HTTPClientIPKey.String(c.ClientIP()),
		)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(c.Writer.Status()))
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", c.Writer.Status()))
		}
	}
}

// StartSpan opens a child span when tracing is enabled, otherwise it
// returns the context's current (possibly no-op) span.
func StartSpan(ctx context.Context, operationName string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, operationName)
}

func SetSpanError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func GetLogger() Logger {
	return defaultLogger
}

func SetLogger(logger Logger) {
	defaultLogger = logger
}

// Field constructors.

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(key string, err error) Field {
	return Field{Key: key, Value: err.Error()}
}
