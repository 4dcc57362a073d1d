// Package debugsrv runs the optional operator HTTP endpoint: liveness, a JSON
// status snapshot of the publishing daemon and net/http/pprof.
//
// Binding to a non-loopback address requires a token or AllowInsecure.
package debugsrv

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"net/netip"
	"strings"
	"sync"
	"time"

	"postpilot/internal/runtime/supervisor"
	logx "postpilot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6070"

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	// Pprof mounts the profiler under /debug/pprof/.
	Pprof bool

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// StatusFunc builds the /status document. It runs on the request goroutine.
type StatusFunc func(ctx context.Context) (any, error)

type Server struct {
	// ops serializes Start, Stop and Reconfigure; mu guards the fields.
	ops sync.Mutex
	mu  sync.Mutex
	cfg Config
	ln  net.Listener
	sup *supervisor.Supervisor

	log    logx.Logger
	status StatusFunc
}

func New(cfg Config, status StatusFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, status: status, log: log.With(logx.String("comp", "debugsrv"))}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound listener address, empty while not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, restarting the listener only when something changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	changed, running := s.cfg != cfg, s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (changed || !cfg.Enabled) {
		s.stop(ctx)
	}
	s.start(ctx)
}

// Start is idempotent and a no-op while disabled.
func (s *Server) Start(ctx context.Context) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.start(ctx)
}

// Stop closes the listener and waits for the serve task, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stop(ctx)
}

func (s *Server) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	// A bind failure is retried in the background and never stops publishing.
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.sup.GoRestart("debugsrv.serve", s.serve,
		supervisor.WithPublishFirstError(true),
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Server) stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("debug server stop timed out", logx.Err(err))
		return
	}
	s.log.Info("debug server stopped")
}

func (s *Server) serve(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if cfg.Token == "" && !cfg.AllowInsecure && !IsLoopbackAddr(addr) {
		s.log.Error("refusing non-loopback bind without token", logx.String("addr", addr))
		return fmt.Errorf("debug server: %s is not loopback; set a token or allow_insecure", addr)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("debug server listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.ln == ln {
			s.ln = nil
		}
		s.mu.Unlock()
	}()

	srv := &http.Server{Handler: s.Handler(cfg), ReadTimeout: cfg.ReadTimeout, IdleTimeout: cfg.IdleTimeout}
	release := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer release()

	s.log.Info("debug server listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", cfg.Pprof),
		logx.Secret("token", cfg.Token),
	)
	switch err := srv.Serve(ln); {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, http.ErrServerClosed):
		return errors.New("debug server closed unexpectedly")
	default:
		return err
	}
}

// Handler builds the route table for cfg. Exposed for tests.
func (s *Server) Handler(cfg Config) http.Handler {
	routes := map[string]http.HandlerFunc{
		"GET /healthz": func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok") },
		"GET /status":  s.serveStatus,
	}
	if cfg.Pprof {
		routes["/debug/pprof/"] = hpprof.Index
		routes["/debug/pprof/cmdline"] = hpprof.Cmdline
		routes["/debug/pprof/profile"] = hpprof.Profile
		routes["/debug/pprof/symbol"] = hpprof.Symbol
		routes["/debug/pprof/trace"] = hpprof.Trace
	}
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, withAuth(cfg.Token, h))
	}
	return mux
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}
	doc, err := s.status(r.Context())
	if err != nil {
		s.log.Warn("status snapshot failed", logx.Err(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(doc)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); got == "" && ok {
			got = strings.TrimSpace(bearer)
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="postpilot"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// IsLoopbackAddr reports whether host:port names localhost or a loopback IP.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}
