// Package viewer serves the narration log and session state over HTTP.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldtriage/internal/agents"
	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/narration"
)

const (
	shutdownTimeout = 5 * time.Second

	defaultLongPoll = 25 * time.Second
	maxLongPoll     = time.Minute
)

// StatusSource reports the current session status.
type StatusSource interface {
	Status() domain.SessionStatus
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Session domain.SessionStatus `json:"session"`
	Board   agents.Board         `json:"board"`
}

// NarrationPage is the body of GET /api/narration?since=N. Entries are oldest
// first; Next is the cursor for the following request. Truncated is set when
// entries after the cursor were already evicted from the log.
type NarrationPage struct {
	Entries   []domain.NarrationEntry `json:"entries"`
	Next      uint64                  `json:"next"`
	Capacity  int                     `json:"capacity"`
	Truncated bool                    `json:"truncated"`
}

type Config struct {
	Addr    string
	Log     *narration.Log
	Status  StatusSource
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

func New(cfg Config) *Server {
	logger := logging.Component(cfg.Logger, "viewer")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/narration", narrationHandler(cfg.Log))
		r.Handle("/narration/ws", narration.NewFeed(cfg.Log, cfg.Logger))
		r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
			if cfg.Status == nil {
				http.Error(w, "no session", http.StatusServiceUnavailable)
				return
			}
			status := cfg.Status.Status()
			writeJSON(w, http.StatusOK, StateResponse{
				Session: status,
				Board:   agents.Project(status.Orchestrator),
			})
		})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	return &Server{addr: cfg.Addr, handler: r, logger: logger}
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx ends, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("log viewer listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("log viewer shutdown", slog.Any("error", err))
		return err
	}
	return nil
}

// narrationHandler serves the newest-first snapshot, or with ?since=N the
// entries after N. Adding wait=1 (or a duration such as wait=10s) holds the
// request until a new entry arrives or the wait elapses.
func narrationHandler(log *narration.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Narration-Seq", strconv.FormatUint(log.LastSequence(), 10))
		query := r.URL.Query()
		if !query.Has("since") {
			writeJSON(w, http.StatusOK, log.Entries())
			return
		}

		since, err := strconv.ParseUint(query.Get("since"), 10, 64)
		if err != nil {
			http.Error(w, "since must be a sequence number", http.StatusBadRequest)
			return
		}
		wait, err := parseWait(query.Get("wait"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// A cursor from a previous session would otherwise never be satisfied.
		if last := log.LastSequence(); since > last {
			since = last
		}

		ctx := r.Context()
		if wait > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, wait)
			defer cancel()
		}
		entries, err := log.Since(ctx, since, wait > 0)
		if err != nil && r.Context().Err() != nil {
			return
		}

		page := NarrationPage{Entries: entries, Next: since, Capacity: log.Capacity()}
		if page.Entries == nil {
			page.Entries = []domain.NarrationEntry{}
		}
		if n := len(entries); n > 0 {
			page.Next = entries[n-1].Sequence
			page.Truncated = entries[0].Sequence > since+1
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func parseWait(raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "false", "no":
		return 0, nil
	case "1", "true", "yes":
		return defaultLongPoll, nil
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		return 0, errors.New("wait must be a boolean or a duration")
	}
	return min(wait, maxLongPoll), nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
