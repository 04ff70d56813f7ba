package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	rtsup "toastd/internal/runtime/supervisor"
	logx "toastd/pkg/logx"
)

const defaultAddr = "127.0.0.1:8080"

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RatePerSec is the per-client request budget; 0 disables limiting.
	RatePerSec int
	// MetricsPath mounts Metrics when both are set.
	MetricsPath string
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

// Server serves the toast API.
type Server struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	h   http.Handler

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, sched Scheduler, metrics http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "http"))
	s := &Server{cfg: cfg, log: log}
	s.h = s.routes(sched, metrics)
	return s
}

// Handler is the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.h }

func (s *Server) routes(sched Scheduler, metrics http.Handler) http.Handler {
	h := &handlers{sched: sched, log: s.log}

	r := chi.NewRouter()
	r.Use(
		requestID,
		accessLog(s.log),
		recoverer(s.log),
		rateLimit(newIPLimiter(s.cfg.RatePerSec), s.log),
	)
	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.methodNotAllowed)

	if p := strings.TrimSpace(s.cfg.MetricsPath); p != "" && metrics != nil {
		r.Method(http.MethodGet, p, metrics)
	}
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireIdentity(s.log))
		r.Get("/scheduler", h.snapshot)
		r.Route("/spaces/{tenant}/toasts", func(r chi.Router) {
			r.Post("/fire", h.fire)
			r.Post("/scheduled", h.schedule)
			r.Get("/scheduled", h.list)
			r.Delete("/scheduled/{jobID}", h.cancel)
		})
	})
	return r
}

// Start listens and serves under a restart loop. It returns once the
// listener is bound (or the first bind failed).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", s.addr())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.ln = ln
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", s.serveOnce, 500*time.Millisecond, 10*time.Second)
	s.log.Info("http started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) addr() string {
	if a := strings.TrimSpace(s.cfg.Addr); a != "" {
		return a
	}
	return defaultAddr
}

// Addr is the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	ln := s.ln
	if ln == nil {
		// Re-bind after a failed serve.
		var err error
		ln, err = net.Listen("tcp", s.addr())
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.ln = ln
	}
	srv := &http.Server{
		Handler:           s.h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	err := srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if werr := sup.Stop(ctx); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("http stopped")
	return err
}
