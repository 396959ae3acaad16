package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyupark/freegpt/internal/config"
	"github.com/kyupark/freegpt/internal/cookies"
	"github.com/kyupark/freegpt/internal/ledger"
	"github.com/kyupark/freegpt/internal/ledger/sqlite"
	"github.com/kyupark/freegpt/internal/provider/chatgpt"
	"github.com/kyupark/freegpt/internal/server"
	"github.com/kyupark/freegpt/internal/tokenizer"
	"github.com/kyupark/freegpt/internal/tunnel"
)

var (
	serveAddr   string
	serveTunnel bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OpenAI-compatible API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveTunnel, "tunnel", false, "Expose the server through a cloudflared quick tunnel")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := globalCfg
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveTunnel {
		cfg.Tunnel = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := setupLogFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lf := logf()
	var jar map[string]string
	if cfg.BrowserCookies {
		jar = importCookies(ctx, lf)
	}

	provider, err := chatgpt.New(chatgpt.Options{
		BaseURL:          cfg.BaseURL,
		BackendModel:     cfg.BackendModel,
		UserAgent:        cfg.UserAgent,
		MaxRetries:       cfg.MaxRetries,
		HandshakeTimeout: cfg.HandshakeTimeout,
		RequestTimeout:   cfg.RequestTimeout,
		Proxy:            cfg.Proxy,
		Cookies:          jar,
		Solver:           chatgpt.NewSolver(cfg.PowWorkers, cfg.PowMaxIterations),
		Logf:             lf,
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	var sessions chatgpt.SessionSource = provider
	if cfg.SessionCacheTTL > 0 {
		sessions = chatgpt.NewSessionCache(provider, cfg.SessionCacheTTL)
		log.Printf("session cache enabled (ttl %s)", cfg.SessionCacheTTL)
	}

	var store ledger.Store
	if cfg.LedgerPath != "" {
		s, err := sqlite.New(cfg.LedgerPath)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer s.Close()
		store = s
	}

	api := server.New(server.Config{
		ModelLabel:    cfg.ModelLabel,
		SupportURL:    cfg.SupportURL,
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.PublicBaseURL(),
		RateLimit:     cfg.RateLimit,
		RateWindow:    cfg.RateWindow,
		RateWhitelist: cfg.RateWhitelist,
	}, server.Deps{
		Sessions: sessions,
		Upstream: provider,
		Tokens:   tokenizer.New(lf),
		Ledger:   store,
		Logf:     lf,
	})
	defer api.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Tunnel {
		go runTunnel(ctx, cfg, lf)
	}

	log.Printf("listening on %s, base URL %s", cfg.Addr, cfg.PublicBaseURL())
	return server.Serve(ctx, httpSrv)
}

func importCookies(ctx context.Context, lf func(string, ...any)) map[string]string {
	res, err := cookies.Import(ctx, chatgpt.CookieDomains, chatgpt.CookieNames, lf)
	if err != nil {
		log.Printf("cookie import: %v", err)
	}
	if res == nil || len(res.Cookies) == 0 {
		log.Printf("no browser cookies found for %s", strings.Join(chatgpt.CookieDomains, ", "))
		return nil
	}
	log.Printf("loaded %d cookies from %s", len(res.Cookies), res.Browser)
	return res.Cookies
}

func runTunnel(ctx context.Context, cfg *config.Config, lf func(string, ...any)) {
	local := strings.TrimSuffix(cfg.PublicBaseURL(), "/v1")
	t, err := tunnel.Start(ctx, cfg.TunnelBinary, local, config.DefaultTunnelWait, lf)
	if err != nil {
		log.Printf("tunnel: %v", err)
		return
	}
	log.Printf("public base URL %s/v1", t.URL)
	<-ctx.Done()
	t.Close()
}

// setupLogFile mirrors the process log into path when set.
func setupLogFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}
