package s3trace

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc/stats"
)

// StatsClientHandler создает обработчик статистики для gRPC-клиента
func (tw *Wrapper) StatsClientHandler() stats.Handler {
	return otelgrpc.NewClientHandler(
		otelgrpc.WithTracerProvider(tw.TracerProvider()),
		otelgrpc.WithPropagators(otel.GetTextMapPropagator()),
	)
}

// StatsServerHandler создает обработчик статистики для gRPC-сервера
func (tw *Wrapper) StatsServerHandler() stats.Handler {
	return otelgrpc.NewServerHandler(
		otelgrpc.WithTracerProvider(tw.TracerProvider()),
		otelgrpc.WithPropagators(otel.GetTextMapPropagator()),
	)
}
