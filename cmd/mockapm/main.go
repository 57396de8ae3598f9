// mockapm: локальный приёмник спанов и клиент для ручной проверки S3-атрибутов.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/calyrexx/s3trace"
	"github.com/calyrexx/s3trace/apmtest"
	"github.com/calyrexx/s3trace/discard"
)

var (
	version = "dev"
	commit  = "unknown"
)

type config struct {
	Addr        string        `env:"MOCKAPM_ADDR,default=127.0.0.1:0"`
	Duration    time.Duration `env:"MOCKAPM_DURATION"`
	Endpoint    string        `env:"MOCKAPM_ENDPOINT"`
	S3Endpoint  string        `env:"MOCKAPM_S3_ENDPOINT"`
	Region      string        `env:"MOCKAPM_REGION,default=us-east-1"`
	ServiceName string        `env:"MOCKAPM_SERVICE_NAME,default=mockapm"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mockapm",
		Short:        "Mock APM collector for S3 span attributes",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(putCmd())
	root.AddCommand(versionCmd())

	return root
}

func loadConfig(ctx context.Context) (config, error) {
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return cfg, fmt.Errorf("processing config: %w", err)
	}

	return cfg, nil
}

func serveCmd() *cobra.Command {
	var (
		addr     string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept NDJSON deliveries and count received spans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("duration") {
				cfg.Duration = duration
			}

			return serve(ctx, cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:0", "listen address (env MOCKAPM_ADDR)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long; 0 runs until interrupted or /exit (env MOCKAPM_DURATION)")

	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg config) error {
	if cfg.Duration < 0 {
		return fmt.Errorf("duration must be non-negative, got %s", cfg.Duration)
	}

	srv := apmtest.NewServer(
		apmtest.WithAddr(cfg.Addr),
		apmtest.WithLogger(clog.FromContext(ctx)),
	)

	port, err := srv.Start()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listening on port %d\n", port)

	waitCtx := ctx
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	// Возврат без ошибки означает остановку через /exit.
	if err := srv.BlockUntilStopped(waitCtx); err == nil {
		clog.InfoContextf(ctx, "mockapm: stopped by exit request")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Stop(stopCtx); err != nil && !errors.Is(err, apmtest.ErrNotRunning) {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "received %d spans\n", srv.Collector().Count())

	return nil
}

type putOptions struct {
	endpoint   string
	s3Endpoint string
	region     string
	service    string
	bucket     string
	key        string
	body       string
}

func putCmd() *cobra.Command {
	var opts putOptions

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Upload an object inside a traced transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("endpoint") {
				opts.endpoint = cfg.Endpoint
			}
			if !cmd.Flags().Changed("s3-endpoint") {
				opts.s3Endpoint = cfg.S3Endpoint
			}
			if !cmd.Flags().Changed("region") {
				opts.region = cfg.Region
			}
			if !cmd.Flags().Changed("service-name") {
				opts.service = cfg.ServiceName
			}

			return put(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "collector URL for NDJSON spans; empty disables tracing (env MOCKAPM_ENDPOINT)")
	cmd.Flags().StringVar(&opts.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL (env MOCKAPM_S3_ENDPOINT)")
	cmd.Flags().StringVar(&opts.region, "region", "us-east-1", "S3 region (env MOCKAPM_REGION)")
	cmd.Flags().StringVar(&opts.service, "service-name", "mockapm", "service.name of emitted spans (env MOCKAPM_SERVICE_NAME)")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "bucket name")
	cmd.Flags().StringVar(&opts.key, "key", "", "object key")
	cmd.Flags().StringVar(&opts.body, "body", "", "object content")

	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func put(ctx context.Context, cmd *cobra.Command, opts putOptions) error {
	if opts.s3Endpoint == "" {
		return errors.New("s3 endpoint is required")
	}

	tracer, publisher, shutdown, err := newTracing(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			clog.FromContext(ctx).Warnf("mockapm: telemetry shutdown: %v", err)
		}
	}()

	client := s3.New(s3.Options{
		Region:       opts.region,
		BaseEndpoint: aws.String(opts.s3Endpoint),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	}, s3trace.NewInterceptor(s3trace.DefaultRule, publisher).S3Option())

	ctx, span := tracer.Start(ctx, "mockapm.put")
	defer span.End()

	span.SetStringAttribute("mockapm.version", version)

	out, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(opts.bucket),
		Key:    aws.String(opts.key),
		Body:   strings.NewReader(opts.body),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("put object: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uploaded s3://%s/%s etag=%s trace=%s\n",
		opts.bucket, opts.key, aws.ToString(out.ETag), s3trace.TraceIDFromContext(ctx))

	return nil
}

// newTracing без endpoint отдаёт трейсер, который ничего не пишет.
func newTracing(ctx context.Context, opts putOptions) (s3trace.Tracer, *s3trace.Publisher, func(context.Context) error, error) {
	if opts.endpoint == "" {
		return discard.NewTracer(),
			s3trace.NewPublisher(s3trace.WithSpanAccessor(discard.NoSpan)),
			func(context.Context) error { return nil },
			nil
	}

	tw, err := s3trace.New(ctx, opts.service, opts.endpoint,
		s3trace.WithProtocol(s3trace.ProtocolNDJSON),
		s3trace.WithServiceVersion(version),
		s3trace.WithTracer(s3trace.WithSyncExport()),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up tracing: %w", err)
	}

	return tw, s3trace.NewPublisher(), tw.Shutdown, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "mockapm %s (commit: %s)\n", version, commit)
		},
	}
}
