// Package echo provides an importable signaling and media echo endpoint for
// the diagnostic probes. A caller connects over WebSocket, places one call and
// gets its own audio looped back, which lets the probe measure the round trip.
//
// The server also serves a browser page that runs the same check from Chrome,
// so end-to-end tests can start and stop it without running main().
package echo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds server configuration options.
type Config struct {
	Addr         string        // Listen address (e.g., ":8080" or ":0" for random port)
	ReadTimeout  time.Duration // HTTP read timeout
	WriteTimeout time.Duration // HTTP write timeout

	// OfferTimeout bounds the wait for the caller's offer after the
	// WebSocket upgrade.
	OfferTimeout time.Duration

	// Tokens is the accept-list for the token query parameter. An empty
	// list accepts any caller.
	Tokens []string

	// ICEServers are handed to the answering PeerConnection.
	ICEServers []webrtc.ICEServer

	// LoggerFactory receives server and Pion logs. Nil uses the Pion default
	// factory.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns a configuration suitable for testing.
// Uses ":0" to bind to a random available port.
func DefaultConfig() Config {
	return Config{
		Addr:         ":0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		OfferTimeout: 10 * time.Second,
	}
}

// Server answers test calls and echoes their audio.
type Server struct {
	cfg        Config
	httpServer *http.Server
	listener   net.Listener
	addr       string
	mu         sync.Mutex
	running    bool

	api      *webrtc.API
	upgrader websocket.Upgrader
	tokens   map[string]struct{}
	metrics  *metrics
	registry *prometheus.Registry
	log      logging.LeveledLogger

	sessMu   sync.Mutex
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a new server with the given configuration.
// The server is not started until Start() is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = DefaultConfig().OfferTimeout
	}
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	api, err := newAPI(lf)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg: cfg,
		api: api,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		tokens:   make(map[string]struct{}, len(cfg.Tokens)),
		metrics:  m,
		registry: reg,
		log:      lf.NewLogger("echo"),
		sessions: make(map[*session]struct{}),
	}
	for _, t := range cfg.Tokens {
		s.tokens[t] = struct{}{}
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/signal", s.handleSignal).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// newAPI builds the answering side: every default codec, so the caller's
// preference decides, and RTCP reports so the caller can measure the path.
func newAPI(lf logging.LoggerFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: lf}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	), nil
}

// Start begins listening and serving HTTP requests.
// Returns the actual address the server is listening on (useful when port is 0).
// This method is non-blocking - the server runs in a goroutine.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.addr, nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = ln
	s.addr = ln.Addr().String()
	s.running = true

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("serve: %v", err)
		}
	}()

	return s.addr, nil
}

// Shutdown stops accepting requests, hangs up every call in progress and
// waits for their sessions to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)

	s.sessMu.Lock()
	for sess := range s.sessions {
		sess.close()
	}
	s.sessMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Addr returns the address the server is listening on.
// Returns empty string if server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Registry returns the registry holding the server's metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(HTMLPage))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) authorized(token string) bool {
	if len(s.tokens) == 0 {
		return true
	}
	_, ok := s.tokens[token]
	return ok
}

func (s *Server) track(sess *session) bool {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *session) {
	s.sessMu.Lock()
	delete(s.sessions, sess)
	s.sessMu.Unlock()
	s.wg.Done()
}
