package s3trace

import (
	"context"
	"fmt"
	"log/slog"
)

type PublisherOption func(*Publisher)

// WithAttributeRule заменяет набор копируемых полей.
func WithAttributeRule(rule AttributeRule) PublisherOption {
	return func(p *Publisher) {
		p.rule = append(AttributeRule(nil), rule...)
	}
}

// WithSpanAccessor задаёт способ получения активного спана.
func WithSpanAccessor(accessor SpanAccessor) PublisherOption {
	return func(p *Publisher) {
		p.accessor = accessor
	}
}

// WithPublisherLogger задаёт логгер для подавленных ошибок публикации.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// Publisher переносит поля запроса в атрибуты активного спана.
type Publisher struct {
	rule     AttributeRule
	accessor SpanAccessor
	logger   *slog.Logger
}

func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		rule:     DefaultAttributeRule,
		accessor: ActiveSpan,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// OnMatchedCall вызывается хостом один раз на каждый подошедший вызов, до самого вызова.
// Любая паника при чтении полей или записи атрибутов гасится здесь и только логируется:
// телеметрия не должна влиять на результат вызова.
func (p *Publisher) OnMatchedCall(ctx context.Context, req interface{}) {
	defer func() {
		if r := recover(); r != nil {
			p.log().WarnContext(ctx, "s3trace: attribute publication suppressed",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("request_type", fmt.Sprintf("%T", req)),
			)
		}
	}()

	span, ok := p.accessor(ctx)
	if !ok || span == nil {
		return
	}

	for _, m := range p.rule {
		if v, ok := Field(req, m.Field); ok {
			span.SetStringAttribute(string(m.Attribute), v)
		}
	}
}

func (p *Publisher) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}

	return slog.Default()
}
