package apmtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultAddr     = "127.0.0.1:0"
	pollInterval    = time.Millisecond
	exitStopTimeout = 3 * time.Second
)

// State: фаза жизненного цикла сервера.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateListening
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

type ServerOption func(*Server)

// WithAddr задаёт адрес прослушивания. По умолчанию 127.0.0.1 на случайном порту.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithCollector задаёт хранилище спанов, например общее для нескольких запусков сервера.
func WithCollector(c *Collector) ServerOption {
	return func(s *Server) {
		s.collector = c
	}
}

// WithRegistry задаёт реестр метрик, который отдаётся на /metrics. Collector регистрируется
// в нём при Start; реестр с метриками другого Collector приводит к ошибке Start.
func WithRegistry(r *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// WithLogger задаёт логгер сервера.
func WithLogger(l *clog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// Server: мок APM-сервера: принимает построчный JSON по HTTP и складывает спаны в Collector.
// Каждый тест создаёт свой экземпляр; глобального состояния нет.
type Server struct {
	addr      string
	collector *Collector
	registry  *prometheus.Registry
	log       *clog.Logger

	mu    sync.Mutex
	state atomic.Int32
	srv   *http.Server
	ln    net.Listener
	done  chan struct{}
	port  int
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr: defaultAddr,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.collector == nil {
		s.collector = NewCollector()
	}

	if s.log == nil {
		s.log = clog.FromContext(context.Background())
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	return s
}

// register добавляет Collector в реестр. Повторная регистрация того же Collector допустима.
func (s *Server) register() error {
	err := s.registry.Register(s.collector)
	if err == nil {
		return nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) && are.ExistingCollector == prometheus.Collector(s.collector) {
		return nil
	}

	return fmt.Errorf("failed to register collector metrics: %w", err)
}

func (s *Server) Collector() *Collector {
	return s.collector
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// Port возвращает порт, на котором слушает сервер, или 0, если он остановлен.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateListening {
		return 0
	}

	return s.port
}

// URL возвращает адрес для экспортёра спанов.
func (s *Server) URL() string {
	return "http://127.0.0.1:" + strconv.Itoa(s.Port()) + "/"
}

// Start занимает порт и начинает принимать доставки. Возвращает порт.
func (s *Server) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateStopped {
		return 0, ErrAlreadyRunning
	}

	if err := s.register(); err != nil {
		return 0, err
	}
	s.state.Store(int32(StateStarting))

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return 0, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/exit", s.handleExit)
	mux.Handle("/", s.collector)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("apmtest: server stopped unexpectedly: %v", err)
			_ = srv.Close()
			s.state.Store(int32(StateStopped))
		}
	}()

	s.srv = srv
	s.ln = ln
	s.done = done
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.state.Store(int32(StateListening))

	s.log.Infof("apmtest: mock APM server started on port %d", s.port)

	return s.port, nil
}

// Stop освобождает порт. На остановленном сервере возвращает ErrNotRunning.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateListening {
		return ErrNotRunning
	}

	err := s.srv.Shutdown(ctx)
	if err != nil {
		err = errors.Join(err, s.srv.Close())
	}
	<-s.done

	s.srv = nil
	s.ln = nil
	s.done = nil
	s.port = 0
	s.state.Store(int32(StateStopped))

	if err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	return nil
}

// BlockUntilReady ждёт, пока сервер не начнёт слушать.
func (s *Server) BlockUntilReady(ctx context.Context) error {
	return s.blockUntil(ctx, StateListening)
}

// BlockUntilStopped ждёт остановки сервера, например после запроса на /exit.
func (s *Server) BlockUntilStopped(ctx context.Context) error {
	return s.blockUntil(ctx, StateStopped)
}

func (s *Server) blockUntil(ctx context.Context, want State) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for s.State() != want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// handleExit отвечает и останавливает сервер в фоне: Shutdown дожидается завершения этого обработчика.
func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ack)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), exitStopTimeout)
		defer cancel()

		if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			s.log.Warnf("apmtest: stop on exit request: %v", err)
		}
	}()
}
