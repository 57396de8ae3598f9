package s3trace

import (
	"bytes"
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type spanWrapper struct {
	span trace.Span
}

func (s *spanWrapper) End() {
	s.span.End()
}

func (s *spanWrapper) IsRecording() bool {
	return s.span.IsRecording()
}

// SetStringAttribute устанавливает строковый атрибут
func (s *spanWrapper) SetStringAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

// SetIntAttribute устанавливает числовой атрибут
func (s *spanWrapper) SetIntAttribute(key string, value int) {
	s.span.SetAttributes(attribute.Int(key, value))
}

// SetJSONAttribute сериализует объект в JSON и устанавливает как атрибут
func (s *spanWrapper) SetJSONAttribute(key string, value interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	defer jsonBufferPool.Put(buf)
	buf.Reset()

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(value); err == nil {
		s.span.SetAttributes(attribute.String(key, string(bytes.TrimSpace(buf.Bytes()))))
	}
}

var jsonBufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

func (s *spanWrapper) AddEvent(name string) {
	s.span.AddEvent(name)
}

// RecordError записывает ошибку в спан и устанавливает его статус как Error
func (s *spanWrapper) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// SpanFromContext оборачивает спан из контекста. Если спана нет, возвращается
// обёртка над no-op спаном.
func SpanFromContext(ctx context.Context) Span {
	return &spanWrapper{
		span: trace.SpanFromContext(ctx),
	}
}

// ActiveSpan: SpanAccessor по умолчанию. Спан считается активным, только если он
// записывается: no-op и завершённые спаны атрибуты всё равно не примут.
func ActiveSpan(ctx context.Context) (Span, bool) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil, false
	}

	return &spanWrapper{span: span}, true
}
