package s3trace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const ndjsonContentType = "application/x-ndjson"

type ExporterOption func(*CollectorExporter)

// WithHTTPClient задаёт HTTP-клиент экспортёра.
func WithHTTPClient(c *http.Client) ExporterOption {
	return func(e *CollectorExporter) {
		e.client = c
	}
}

// WithExporterServiceName переопределяет имя сервиса в строке metadata.
// По умолчанию берётся service.name из ресурса первого спана.
func WithExporterServiceName(name string) ExporterOption {
	return func(e *CollectorExporter) {
		e.serviceName = name
	}
}

// CollectorExporter отправляет спаны построчным JSON (NDJSON) на HTTP-коллектор:
// первая строка {"metadata":...}, далее по строке {"span":...} на каждый спан.
type CollectorExporter struct {
	url         string
	client      *http.Client
	serviceName string
	stopped     atomic.Bool
}

var _ sdktrace.SpanExporter = (*CollectorExporter)(nil)

func NewCollectorExporter(url string, opts ...ExporterOption) *CollectorExporter {
	e := &CollectorExporter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type intakeMetadata struct {
	Metadata struct {
		Service struct {
			Name string `json:"name"`
		} `json:"service"`
	} `json:"metadata"`
}

type intakeEnvelope struct {
	Span intakeSpan `json:"span"`
}

type intakeSpan struct {
	Name      string     `json:"name"`
	TraceID   string     `json:"trace_id"`
	ID        string     `json:"id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Timestamp int64      `json:"timestamp"`
	Duration  float64    `json:"duration"`
	Outcome   string     `json:"outcome"`
	OTel      intakeOTel `json:"otel"`
}

type intakeOTel struct {
	SpanKind   string                 `json:"span_kind"`
	Scope      string                 `json:"scope,omitempty"`
	Attributes map[string]interface{} `json:"attributes"`
}

// ExportSpans отправляет пачку спанов одним запросом.
func (e *CollectorExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() || len(spans) == 0 {
		return nil
	}

	body, err := e.encode(spans)
	if err != nil {
		return fmt.Errorf("failed to encode spans: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ndjsonContentType)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send spans: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector responded with status %d", resp.StatusCode)
	}

	return nil
}

func (e *CollectorExporter) encode(spans []sdktrace.ReadOnlySpan) ([]byte, error) {
	var buf bytes.Buffer

	var meta intakeMetadata
	meta.Metadata.Service.Name = e.serviceName
	if meta.Metadata.Service.Name == "" {
		if v, ok := spans[0].Resource().Set().Value(semconv.ServiceNameKey); ok {
			meta.Metadata.Service.Name = v.AsString()
		}
	}

	if err := writeLine(&buf, meta); err != nil {
		return nil, err
	}

	for _, s := range spans {
		if err := writeLine(&buf, intakeEnvelope{Span: toIntakeSpan(s)}); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeLine(buf *bytes.Buffer, v interface{}) error {
	line, err := sonic.Marshal(v)
	if err != nil {
		return err
	}

	buf.Write(line)
	buf.WriteByte('\n')

	return nil
}

func toIntakeSpan(s sdktrace.ReadOnlySpan) intakeSpan {
	attrs := make(map[string]interface{}, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}

	out := intakeSpan{
		Name:      s.Name(),
		TraceID:   s.SpanContext().TraceID().String(),
		ID:        s.SpanContext().SpanID().String(),
		Timestamp: s.StartTime().UnixMicro(),
		Duration:  float64(s.EndTime().Sub(s.StartTime())) / float64(time.Millisecond),
		Outcome:   outcome(s.Status().Code),
		OTel: intakeOTel{
			SpanKind:   s.SpanKind().String(),
			Scope:      s.InstrumentationScope().Name,
			Attributes: attrs,
		},
	}

	if s.Parent().IsValid() {
		out.ParentID = s.Parent().SpanID().String()
	}

	return out
}

func outcome(c codes.Code) string {
	switch c {
	case codes.Error:
		return "failure"
	case codes.Ok:
		return "success"
	default:
		return "unknown"
	}
}

// Shutdown останавливает экспортёр; последующие ExportSpans ничего не отправляют.
func (e *CollectorExporter) Shutdown(ctx context.Context) error {
	e.stopped.Store(true)

	return nil
}
