// Package server exposes the OpenAI-compatible HTTP API in front of the
// chat backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kyupark/freegpt/internal/ledger"
	"github.com/kyupark/freegpt/internal/openai"
	"github.com/kyupark/freegpt/internal/provider/chatgpt"
	"github.com/kyupark/freegpt/internal/tokenizer"
)

// Config holds the HTTP-facing settings.
type Config struct {
	// ModelLabel is the model name reported to callers.
	ModelLabel string
	SupportURL string
	// APIKey, when set, must be presented as a bearer token.
	APIKey string
	// BaseURL is the advertised API root, used in the not-found hint.
	BaseURL string
	// RateLimit requests per RateWindow per client IP; zero disables.
	RateLimit     int
	RateWindow    time.Duration
	RateWhitelist []string
	MaxBodyBytes  int64
}

// Upstream is the backend half of the pipeline.
type Upstream interface {
	Prove(ctx context.Context, sess *chatgpt.Session) (chatgpt.ProofResult, error)
	Dispatch(ctx context.Context, msgs []openai.ChatMessage, creds chatgpt.Credentials) (io.ReadCloser, error)
}

// Deps are the collaborators a Server drives.
type Deps struct {
	Sessions chatgpt.SessionSource
	Upstream Upstream
	Tokens   tokenizer.Counter
	// Ledger is optional.
	Ledger ledger.Store
	Logf   func(string, ...any)
}

// Server routes API calls into the chat pipeline.
type Server struct {
	cfg      Config
	sessions chatgpt.SessionSource
	upstream Upstream
	tokens   tokenizer.Counter
	ledger   ledger.Store
	limiter  *ipLimiter
	logf     func(string, ...any)
	router   chi.Router
}

// New wires a Server. Call Close to stop its background work.
func New(cfg Config, deps Deps) *Server {
	if cfg.ModelLabel == "" {
		cfg.ModelLabel = "gpt-3.5-turbo"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	s := &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		upstream: deps.Upstream,
		tokens:   deps.Tokens,
		ledger:   deps.Ledger,
		logf:     deps.Logf,
	}
	if s.tokens == nil {
		s.tokens = tokenizer.Estimate{}
	}
	if s.logf == nil {
		s.logf = func(string, ...any) {}
	}
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit, cfg.RateWindow, cfg.RateWhitelist)
		go s.limiter.cleanupLoop(time.Minute)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.Default(), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/", s.handleRoot)
	r.Route("/v1", func(api chi.Router) {
		api.Use(s.requireAPIKey)
		api.Use(s.rateLimit)
		api.Get("/models", s.handleModels)
		api.Post("/chat/completions", s.handleChatCompletions)
	})

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter sweep.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  true,
		"message": fmt.Sprintf("OpenAI-compatible API is running; use %q as the base URL.", s.cfg.BaseURL),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, openai.ModelList{
		Object: "list",
		Data: []openai.Model{{
			ID:      s.cfg.ModelLabel,
			Object:  "model",
			Created: 1677610602,
			OwnedBy: "openai",
		}},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	msg := fmt.Sprintf("The requested endpoint (%s %s) was not found. please make sure to use %q as the base URL.",
		r.Method, r.URL.Path, s.cfg.BaseURL)
	s.respondError(w, http.StatusNotFound, errTypeInvalidRequest, msg)
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
