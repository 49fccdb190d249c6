// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the parse engine over HTTP.
//
//	POST /v1/parse         parse one document
//	GET  /v1/stats         engine statistics
//	GET  /v1/cache/count   number of L1 entries
//	POST /v1/cache/sync    checkpoint the L1 store
//	GET  /v1/version       engine version
//	GET  /healthz          liveness
//
// When a JWT secret is configured every /v1 route requires an HS256 bearer
// token.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pdiddy/docudactyl/internal/cache/l1"
	"github.com/pdiddy/docudactyl/internal/dispatch"
	"github.com/pdiddy/docudactyl/internal/stages"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// Engine is the subset of the dispatcher the server drives.
type Engine interface {
	Parse(ctx context.Context, req dispatch.Request) (types.ParseResult, *stages.Results, error)
	Stats(ctx context.Context) dispatch.Stats
	CacheCount(ctx context.Context) (uint64, error)
	SyncCache(ctx context.Context) error
}

const requestTimeout = 5 * time.Minute

// Server wraps the HTTP server and its routes.
type Server struct {
	engine Engine
	cfg    types.ServerConfig
	logger *slog.Logger
	router chi.Router
}

// New builds the router.
func New(engine Engine, cfg types.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, cfg: cfg, logger: logger.With("component", "server")}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Get("/version", s.version)
		api.Group(func(protected chi.Router) {
			if cfg.JWTSecret != "" {
				protected.Use(bearerAuth([]byte(cfg.JWTSecret)))
			}
			protected.Post("/parse", s.parse)
			protected.Get("/stats", s.stats)
			protected.Get("/cache/count", s.cacheCount)
			protected.Post("/cache/sync", s.cacheSync)
		})
	})

	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr, "auth", s.cfg.JWTSecret != "")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// ParseRequest is the body of POST /v1/parse.
type ParseRequest struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	// Format is text, json or yaml.
	Format string `json:"format,omitempty"`
	// Stages is a preset, a stage list or a numeric mask.
	Stages string `json:"stages,omitempty"`
}

// ParseResponse is the body returned by POST /v1/parse.
type ParseResponse struct {
	Result types.ParseResult `json:"result"`
	Status string            `json:"status"`
	Stages *stages.Results   `json:"stages,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) parse(w http.ResponseWriter, r *http.Request) {
	var body ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if body.Input == "" {
		writeError(w, http.StatusBadRequest, errors.New("input is required"))
		return
	}
	format, ok := types.ParseOutputFormat(body.Format)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown format %q", body.Format))
		return
	}
	flags, err := types.ParseStageFlags(body.Stages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, st, err := s.engine.Parse(r.Context(), dispatch.Request{
		Input:  body.Input,
		Output: body.Output,
		Format: format,
		Stages: flags,
	})
	if err != nil {
		s.logger.Error("parse failed", "input", body.Input, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, l1.ErrCorrupt) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, ParseResponse{Result: res, Status: res.Status.String(), Stages: st})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats(r.Context()))
}

func (s *Server) cacheCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.CacheCount(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": n})
}

func (s *Server) cacheSync(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SyncCache(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": dispatch.Version()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrClosed), errors.Is(err, l1.ErrClosed), errors.Is(err, l1.ErrCorrupt):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// requestID tags every request with an X-Request-Id, keeping one supplied
// by the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start))
	})
}

// bearerAuth validates an HS256 bearer token.
func bearerAuth(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || tokenStr == "" {
				writeError(w, http.StatusUnauthorized, errors.New("missing or invalid token"))
				return
			}
			token, err := parser.Parse(tokenStr, func(*jwt.Token) (any, error) { return secret, nil })
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
