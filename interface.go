package s3trace

import (
	"context"
)

type Span interface {
	End()
	IsRecording() bool
	SetStringAttribute(key, value string)
	SetIntAttribute(key string, value int)
	SetJSONAttribute(key string, value interface{})
	AddEvent(name string)
	RecordError(err error)
}

type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// SpanAccessor возвращает активный спан контекста. Второе значение false означает,
// что активного спана нет и писать атрибуты некуда.
type SpanAccessor func(ctx context.Context) (Span, bool)
