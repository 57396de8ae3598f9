package s3trace

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// smithyContext возвращает контекст с метаданными операции так, как их выставляет стек клиента.
func smithyContext(t *testing.T, ctx context.Context, service, operation string) context.Context {
	t.Helper()

	var out context.Context
	capture := middleware.InitializeHandlerFunc(func(ctx context.Context, in middleware.InitializeInput) (middleware.InitializeOutput, middleware.Metadata, error) {
		out = ctx
		return middleware.InitializeOutput{}, middleware.Metadata{}, nil
	})

	meta := &awsmiddleware.RegisterServiceMetadata{ServiceID: service, OperationName: operation}
	_, _, err := meta.HandleInitialize(ctx, middleware.InitializeInput{}, capture)
	require.NoError(t, err)

	return out
}

func TestSerializeMiddlewarePublishesBeforeNext(t *testing.T) {
	t.Parallel()

	sr, tracer := newRecordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "Transaction")
	ctx = smithyContext(t, ctx, "S3", "PutObject")

	var nextCalled bool
	next := middleware.SerializeHandlerFunc(func(ctx context.Context, in middleware.SerializeInput) (middleware.SerializeOutput, middleware.Metadata, error) {
		nextCalled = true
		// атрибуты уже должны быть на спане к моменту реального вызова
		assert.Contains(t, attributeMap(sr.Started()[0]), "s3.bucket_name")
		return middleware.SerializeOutput{}, middleware.Metadata{}, nil
	})

	i := NewInterceptor(DefaultRule, nil)
	_, _, err := i.serializeMiddleware().HandleSerialize(ctx, middleware.SerializeInput{
		Request:    smithyhttp.NewStackRequest(),
		Parameters: &s3.PutObjectInput{Bucket: aws.String("B"), Key: aws.String("K")},
	}, next)
	span.End()

	require.NoError(t, err)
	assert.True(t, nextCalled)

	attrs := attributeMap(sr.Ended()[0])
	assert.Equal(t, "B", attrs["s3.bucket_name"])
	assert.Equal(t, "K", attrs["s3.object_key"])
}

func TestSerializeMiddlewareSkipsOtherServices(t *testing.T) {
	t.Parallel()

	sr, tracer := newRecordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "Transaction")
	ctx = smithyContext(t, ctx, "SQS", "SendMessage")

	next := middleware.SerializeHandlerFunc(func(ctx context.Context, in middleware.SerializeInput) (middleware.SerializeOutput, middleware.Metadata, error) {
		return middleware.SerializeOutput{}, middleware.Metadata{}, nil
	})

	_, _, err := NewInterceptor(DefaultRule, nil).serializeMiddleware().HandleSerialize(ctx, middleware.SerializeInput{
		Request:    smithyhttp.NewStackRequest(),
		Parameters: map[string]string{"Bucket": "B"},
	}, next)
	span.End()

	require.NoError(t, err)
	assert.Empty(t, attributeMap(sr.Ended()[0]))
}

func TestSerializeMiddlewareKeepsCallError(t *testing.T) {
	t.Parallel()

	ctx := smithyContext(t, context.Background(), "S3", "GetObject")
	callErr := errors.New("access denied")

	next := middleware.SerializeHandlerFunc(func(ctx context.Context, in middleware.SerializeInput) (middleware.SerializeOutput, middleware.Metadata, error) {
		return middleware.SerializeOutput{}, middleware.Metadata{}, callErr
	})

	_, _, err := NewInterceptor(DefaultRule, nil).serializeMiddleware().HandleSerialize(ctx, middleware.SerializeInput{
		Request:    smithyhttp.NewStackRequest(),
		Parameters: panickingRequest{},
	}, next)

	assert.ErrorIs(t, err, callErr)
}

func TestAddToStack(t *testing.T) {
	t.Parallel()

	stack := middleware.NewStack("test", smithyhttp.NewStackRequest)
	require.NoError(t, NewInterceptor(DefaultRule, nil).AddToStack(stack))

	_, ok := stack.Serialize.Get(middlewareID)
	assert.True(t, ok)
}

func TestS3ClientPutObject(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(fake.Close)

	client := s3.New(s3.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(fake.URL),
		UsePathStyle:     true,
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 1,
	}, NewInterceptor(DefaultRule, nil).S3Option())

	sr, tracer := newRecordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "Transaction")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("some-test-bucket"),
		Key:    aws.String("some-object-key"),
		Body:   strings.NewReader("This is some Object content"),
	})
	span.End()

	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())

	attrs := attributeMap(sr.Ended()[0])
	assert.Equal(t, "some-test-bucket", attrs["s3.bucket_name"])
	assert.Equal(t, "some-object-key", attrs["s3.object_key"])
}

type writeObjectRequest struct {
	Bucket string
	Object string
}

var storageRule = AttributeRule{
	{Field: "Bucket", Attribute: BucketNameKey},
	{Field: "Object", Attribute: ObjectKeyKey},
}

func TestUnaryClientInterceptor(t *testing.T) {
	t.Parallel()

	sr, tracer := newRecordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "Transaction")

	i := NewInterceptor(
		NewRule("google.storage.v2.Storage", "Write", TypeName(reflect.TypeOf(&writeObjectRequest{}))),
		NewPublisher(WithAttributeRule(storageRule)),
	)

	var invoked int
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		invoked++
		return nil
	}

	interceptor := i.UnaryClientInterceptor()
	require.NoError(t, interceptor(ctx, "/google.storage.v2.Storage/WriteObject", &writeObjectRequest{Bucket: "b", Object: "o"}, nil, nil, invoker))
	require.NoError(t, interceptor(ctx, "/google.storage.v2.Storage/ReadObject", &writeObjectRequest{Bucket: "other", Object: "other"}, nil, nil, invoker))
	span.End()

	assert.Equal(t, 2, invoked)

	attrs := attributeMap(sr.Ended()[0])
	assert.Equal(t, "b", attrs["s3.bucket_name"])
	assert.Equal(t, "o", attrs["s3.object_key"])
}

func TestUnaryServerInterceptorSetsStatus(t *testing.T) {
	t.Parallel()

	sr, tracer := newRecordingTracer(t)

	interceptor := NewInterceptor(NewRule("google.storage.v2.Storage", ""), NewPublisher(WithAttributeRule(storageRule))).
		UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/google.storage.v2.Storage/DeleteObject"}

	ctx, span := tracer.Start(context.Background(), "ok")
	resp, err := interceptor(ctx, &writeObjectRequest{Bucket: "b"}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "done", nil
	})
	span.End()
	require.NoError(t, err)
	assert.Equal(t, "done", resp)

	failure := errors.New("not found")
	ctx, span = tracer.Start(context.Background(), "failed")
	_, err = interceptor(ctx, &writeObjectRequest{Bucket: "b"}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, failure
	})
	span.End()
	assert.ErrorIs(t, err, failure)

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, "b", attributeMap(ended[0])["s3.bucket_name"])
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "not found", ended[1].Status().Description)
}

func TestGRPCDescriptor(t *testing.T) {
	t.Parallel()

	d := grpcDescriptor("/google.storage.v2.Storage/WriteObject", &writeObjectRequest{})
	assert.Equal(t, "google.storage.v2.Storage", d.Type)
	assert.Equal(t, "WriteObject", d.Method)
	assert.Equal(t, []string{"*github.com/calyrexx/s3trace.writeObjectRequest"}, d.Params)

	d = grpcDescriptor("Ping", nil)
	assert.Equal(t, "", d.Type)
	assert.Equal(t, "Ping", d.Method)
	assert.Equal(t, []string{"<nil>"}, d.Params)
}

func TestPropagationUnaryInterceptor(t *testing.T) {
	_, tracer := newRecordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "client")
	defer span.End()

	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", "42")

	var got metadata.MD
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		got, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}

	restore := setPropagator(propagation.TraceContext{})
	defer restore()

	require.NoError(t, PropagationUnaryInterceptor()(ctx, "/svc/Method", nil, nil, nil, invoker))

	assert.Equal(t, []string{"42"}, got.Get("x-request-id"))
	require.Len(t, got.Get("traceparent"), 1)
	assert.Contains(t, got.Get("traceparent")[0], span.SpanContext().TraceID().String())
}
