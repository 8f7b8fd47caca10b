package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vincentbai/webtics/internal/database"
	"github.com/vincentbai/webtics/internal/forward"
	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/metrics"
	"github.com/vincentbai/webtics/internal/models"
	"github.com/vincentbai/webtics/internal/ratelimit"
)

const shutdownTimeout = 30 * time.Second

// Store is the persistence the collector needs.
type Store interface {
	InsertEvent(ctx context.Context, event models.Event) (string, error)
	CountEvents(ctx context.Context) (int64, error)
}

type Server struct {
	db           Store
	address      string
	server       *http.Server
	limiter      ratelimit.RateLimiter
	forwarder    forward.Forwarder
	logger       *logging.Logger
	staticDir    string
	maxBodyBytes int64
	readTimeout  time.Duration
	writeTimeout time.Duration
	now          func() time.Time
}

type Option func(*Server)

func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithRateLimiter(limiter ratelimit.RateLimiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

func WithForwarder(forwarder forward.Forwarder) Option {
	return func(s *Server) { s.forwarder = forwarder }
}

// WithStaticDir serves files under dir at /static/.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(db Store, address string, opts ...Option) *Server {
	s := &Server{
		db:           db,
		address:      address,
		limiter:      ratelimit.NoOpRateLimiter{},
		forwarder:    forward.NoOp{},
		logger:       logging.Default(),
		maxBodyBytes: 64 * 1024,
		readTimeout:  5 * time.Second,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// decodeEvent reads exactly one JSON object from body; anything after it
// other than whitespace is an error.
func decodeEvent(body io.Reader, event *models.Event) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(event); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after event object")
		}
		return err
	}
	return nil
}

// handleTrack accepts one beacon payload. Browsers send it as text/plain,
// so the content type is not checked.
func (s *Server) handleTrack(w http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	clientIP := clientAddr(request)
	allowed, err := s.limiter.Allow(ctx, clientIP)
	if err != nil {
		// fail open
		s.logger.WarnContext(ctx, "rate limiter unavailable", logging.Error(err))
	} else if !allowed {
		metrics.CollectorEvents.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var event models.Event
	body := http.MaxBytesReader(w, request.Body, s.maxBodyBytes)
	if err := decodeEvent(body, &event); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.CollectorEvents.WithLabelValues("too_large").Inc()
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		metrics.CollectorEvents.WithLabelValues("bad_json").Inc()
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if event.TS == 0 {
		event.TS = s.now().UnixMilli()
	}
	if event.Props == nil {
		event.Props = map[string]any{}
	}
	if err := database.ValidateEvent(event); err != nil {
		metrics.CollectorEvents.WithLabelValues("invalid").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	id, err := s.db.InsertEvent(ctx, event)
	metrics.CollectorStoreDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CollectorEvents.WithLabelValues("store_error").Inc()
		s.logger.ErrorContext(ctx, "failed to store event", logging.Event(event.Event), logging.Error(err))
		http.Error(w, "Failed to store event", http.StatusInternalServerError)
		return
	}
	metrics.CollectorEvents.WithLabelValues("accepted").Inc()
	s.logger.DebugContext(ctx, "event stored", logging.EventID(id), logging.Event(event.Event), logging.IP(clientIP))

	if err := s.forwarder.Forward(ctx, id, event); err != nil {
		metrics.ForwardErrors.Inc()
		s.logger.WarnContext(ctx, "failed to forward event", logging.EventID(id), logging.Error(err))
	}

	w.WriteHeader(http.StatusAccepted)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/track", s.handleTrack)
	r.Handle("/metrics", promhttp.Handler())

	if s.staticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	}
	return r
}

// Handler returns the collector's routes.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webtics collector listening", "address", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down collector")
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	s.logger.Info("collector exited")
	return nil
}
