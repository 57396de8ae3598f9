package s3trace

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Protocol определяет, куда отправляются спаны.
type Protocol string

const (
	// ProtocolOTLP: OTLP/gRPC, endpoint вида "localhost:4317".
	ProtocolOTLP Protocol = "otlp"
	// ProtocolNDJSON: построчный JSON на HTTP-коллектор, endpoint вида "http://127.0.0.1:8200/".
	ProtocolNDJSON Protocol = "ndjson"
)

type Option func(*telemetryOptions)

type TracerOption func(*tracerOptions)

type LoggerOption func(*loggerOptions)

type telemetryOptions struct {
	insecure     bool
	protocol     Protocol
	resAttrs     []attribute.KeyValue
	enableTraces bool
	enableLogs   bool
	tracer       tracerOptions
	logger       loggerOptions
}

type tracerOptions struct {
	batchTimeout time.Duration
	sampler      sdktrace.Sampler
	exporter     sdktrace.SpanExporter
	syncExport   bool
}

type loggerOptions struct {
	batchTimeout time.Duration
	level        slog.Level
	slogHandler  slog.Handler
}

func WithInsecure() Option {
	return func(c *telemetryOptions) {
		c.insecure = true
	}
}

// WithProtocol выбирает транспорт спанов. По умолчанию ProtocolOTLP.
func WithProtocol(p Protocol) Option {
	return func(c *telemetryOptions) {
		c.protocol = p
	}
}

func WithResourceAttribute(a attribute.KeyValue) Option {
	return func(c *telemetryOptions) {
		c.resAttrs = append(c.resAttrs, a)
	}
}

func WithEnvironment(env string) Option {
	return WithResourceAttribute(attribute.String("deployment.environment", env))
}

func WithHostName(h string) Option {
	return WithResourceAttribute(semconv.HostNameKey.String(h))
}

func WithServiceVersion(v string) Option {
	return WithResourceAttribute(semconv.ServiceVersionKey.String(v))
}

func WithTracer(opts ...TracerOption) Option {
	return func(c *telemetryOptions) {
		c.enableTraces = true
		for _, o := range opts {
			o(&c.tracer)
		}
	}
}

func WithSampler(s sdktrace.Sampler) TracerOption {
	return func(t *tracerOptions) {
		t.sampler = s
	}
}

func WithTraceBatchTimeout(d time.Duration) TracerOption {
	return func(t *tracerOptions) {
		t.batchTimeout = d
	}
}

// WithSpanExporter подменяет экспортёр, выбранный по протоколу. Endpoint при этом не используется.
func WithSpanExporter(exp sdktrace.SpanExporter) TracerOption {
	return func(t *tracerOptions) {
		t.exporter = exp
	}
}

// WithSyncExport отправляет каждый спан сразу при завершении, без батчинга.
func WithSyncExport() TracerOption {
	return func(t *tracerOptions) {
		t.syncExport = true
	}
}

func WithLogger(opts ...LoggerOption) Option {
	return func(c *telemetryOptions) {
		c.enableLogs = true
		for _, o := range opts {
			o(&c.logger)
		}
	}
}

func WithLogLevel(lvl slog.Level) LoggerOption {
	return func(l *loggerOptions) {
		l.level = lvl
	}
}

func WithLogBatchTimeout(d time.Duration) LoggerOption {
	return func(l *loggerOptions) {
		l.batchTimeout = d
	}
}

func WithSlogHandler(h slog.Handler) LoggerOption {
	return func(l *loggerOptions) {
		l.slogHandler = h
	}
}
