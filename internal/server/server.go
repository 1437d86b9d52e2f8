// Package server exposes the dispatcher over a local HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/shipper/internal/agent"
	"github.com/vinayprograms/shipper/internal/deploy"
	"github.com/vinayprograms/shipper/internal/logging"
	"github.com/vinayprograms/shipper/internal/tools"
)

const maxBodyBytes int64 = 8 << 20

// Config configures a Server.
type Config struct {
	Dispatcher *tools.Dispatcher
	Deployer   *deploy.Deployer
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string
	// Parallel bounds concurrent calls within one batch.
	Parallel int
	Logger   *logging.Logger
}

// Server is the HTTP front end.
type Server struct {
	dispatcher *tools.Dispatcher
	deployer   *deploy.Deployer
	token      string
	parallel   int
	logger     *logging.Logger
	router     chi.Router
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	s := &Server{
		dispatcher: cfg.Dispatcher,
		deployer:   cfg.Deployer,
		token:      cfg.Token,
		parallel:   cfg.Parallel,
		logger:     cfg.Logger.WithComponent("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/tools", s.handleListTools)
		r.Post("/sessions/{session}/tools/{tool}", s.handleCallTool)
		r.Post("/sessions/{session}/turns", s.handleTurn)
		r.Get("/runs", s.handleActiveRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": s.dispatcher.Registry().Definitions()})
}

type callRequest struct {
	ID        string         `json:"id"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if status, err := decodeJSONBody(w, r, &req, true); err != nil {
		respondError(w, status, err)
		return
	}
	res := s.dispatcher.Dispatch(r.Context(), tools.Call{
		ID:        req.ID,
		Name:      chi.URLParam(r, "tool"),
		Session:   chi.URLParam(r, "session"),
		Arguments: req.Arguments,
	})
	respondJSON(w, http.StatusOK, res)
}

type turnRequest struct {
	Calls []struct {
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"calls"`
}

type turnResult struct {
	CallID  string       `json:"call_id"`
	IsError bool         `json:"is_error"`
	Result  tools.Result `json:"result"`
}

// handleTurn runs a batch of calls like one model turn: concurrently, with
// results in request order.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if status, err := decodeJSONBody(w, r, &req, false); err != nil {
		respondError(w, status, err)
		return
	}
	uses := make([]agent.ToolUse, len(req.Calls))
	for i, c := range req.Calls {
		uses[i] = agent.ToolUse{ID: c.ID, Name: c.Name, Input: c.Input}
	}
	adapter := agent.NewAdapter(s.dispatcher, chi.URLParam(r, "session"), s.parallel)
	outcomes := adapter.HandleTurn(r.Context(), uses)

	results := make([]turnResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = turnResult{CallID: o.CallID, IsError: o.IsError, Result: o.Result}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleActiveRuns(w http.ResponseWriter, r *http.Request) {
	if s.deployer == nil {
		respondJSON(w, http.StatusOK, map[string]any{"runs": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": s.deployer.Active()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deployer == nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return
	}
	run, ok := s.deployer.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := extractBearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			respondError(w, http.StatusUnauthorized, errors.New("missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}

func extractBearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"status":  status,
		"message": err.Error(),
	})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return 0, nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBodyBytes)
		}
		return http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err)
	}
	return 0, nil
}
