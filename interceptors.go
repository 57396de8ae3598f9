package s3trace

import (
	"context"
	"reflect"
	"strings"

	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const middlewareID = "s3trace.PublishAttributes"

// Interceptor связывает правило перехвата с публикатором атрибутов.
type Interceptor struct {
	rule      InterceptionRule
	publisher *Publisher
}

// NewInterceptor создаёт перехватчик. Если publisher == nil, используется
// публикатор с настройками по умолчанию.
func NewInterceptor(rule InterceptionRule, publisher *Publisher) *Interceptor {
	if publisher == nil {
		publisher = NewPublisher()
	}

	return &Interceptor{
		rule:      rule,
		publisher: publisher,
	}
}

// Intercept публикует атрибуты, если вызов подходит под правило, и сообщает об этом.
func (i *Interceptor) Intercept(ctx context.Context, call CallDescriptor, req interface{}) bool {
	if !i.rule.Matches(call) {
		return false
	}

	i.publisher.OnMatchedCall(ctx, req)

	return true
}

// AddToStack регистрирует middleware в стеке smithy. Подходит для APIOptions любого клиента AWS SDK v2.
func (i *Interceptor) AddToStack(stack *middleware.Stack) error {
	return stack.Serialize.Add(i.serializeMiddleware(), middleware.Before)
}

// S3Option подключает перехватчик к клиенту S3:
//
//	client := s3.NewFromConfig(cfg, interceptor.S3Option())
func (i *Interceptor) S3Option() func(*s3.Options) {
	return func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, i.AddToStack)
	}
}

func (i *Interceptor) serializeMiddleware() middleware.SerializeMiddleware {
	return middleware.SerializeMiddlewareFunc(middlewareID, func(
		ctx context.Context,
		in middleware.SerializeInput,
		next middleware.SerializeHandler,
	) (middleware.SerializeOutput, middleware.Metadata, error) {
		i.Intercept(ctx, CallDescriptor{
			Type:   awsmiddleware.GetServiceID(ctx),
			Method: "invoke" + awsmiddleware.GetOperationName(ctx),
			Params: []string{TypeName(reflect.TypeOf(in.Request)), GenericRequestType},
		}, in.Parameters)

		return next.HandleSerialize(ctx, in)
	})
}

// UnaryClientInterceptor публикует атрибуты для исходящих gRPC-вызовов, например к Cloud Storage v2.
func (i *Interceptor) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		i.Intercept(ctx, grpcDescriptor(method, req), req)

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerInterceptor публикует атрибуты для входящих gRPC-запросов и выставляет статус спана.
func (i *Interceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		i.Intercept(ctx, grpcDescriptor(info.FullMethod, req), req)

		resp, err := handler(ctx, req)

		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return resp, err
	}
}

// grpcDescriptor разбирает "/google.storage.v2.Storage/WriteObject" на сервис и метод.
func grpcDescriptor(fullMethod string, req interface{}) CallDescriptor {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		method = service
		service = ""
	}

	return CallDescriptor{
		Type:   service,
		Method: method,
		Params: []string{TypeName(reflect.TypeOf(req))},
	}
}

// PropagationUnaryInterceptor распространяет трейс через метаданные gRPC
func PropagationUnaryInterceptor() grpc.UnaryClientInterceptor {
	propagator := otel.GetTextMapPropagator()
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		md, ok := metadata.FromOutgoingContext(ctx)
		if !ok {
			md = metadata.MD{}
		} else {
			md = md.Copy()
		}

		carrier := MetadataCarrier{MD: md}
		propagator.Inject(ctx, carrier)
		ctx = metadata.NewOutgoingContext(ctx, carrier.MD)

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
