package s3trace

import (
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc/metadata"
)

var _ propagation.TextMapCarrier = MetadataCarrier{}

// MetadataCarrier: TextMapCarrier поверх метаданных gRPC.
type MetadataCarrier struct {
	metadata.MD
}

func (c MetadataCarrier) Get(key string) string {
	vals := c.MD[strings.ToLower(key)]
	if len(vals) > 0 {
		return vals[0]
	}

	return ""
}

func (c MetadataCarrier) Set(key, val string) {
	c.MD[strings.ToLower(key)] = []string{val}
}

func (c MetadataCarrier) Keys() []string {
	out := make([]string, 0, len(c.MD))
	for k := range c.MD {
		out = append(out, k)
	}

	return out
}
