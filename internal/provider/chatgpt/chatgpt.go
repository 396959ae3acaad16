// Package chatgpt talks to the ChatGPT anonymous web backend: the
// chat-requirements handshake, the proof-of-work gate, the conversation
// request and the translation of its cumulative event stream into
// OpenAI-style deltas.
package chatgpt

import (
	"net/http"
	"strings"
	"time"

	"github.com/kyupark/freegpt/internal/httpclient"
)

const (
	DefaultBaseURL      = "https://chatgpt.com"
	DefaultBackendModel = "text-davinci-002-render-sha"
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	DefaultMaxRetries   = 5
	DefaultBackoff      = 500 * time.Millisecond

	requirementsPath = "/backend-anon/sentinel/chat-requirements"
	conversationPath = "/backend-anon/conversation"

	cookieCfClearance = "cf_clearance"
	cookieCfBm        = "__cf_bm"
	cookieCfuvid      = "_cfuvid"
)

// CookieNames lists the Cloudflare cookies worth importing from a browser.
var CookieNames = []string{cookieCfClearance, cookieCfBm, cookieCfuvid}

// CookieDomains lists the domains the backend has been served from.
var CookieDomains = []string{"chatgpt.com", "openai.com"}

// Options configures a Provider. Zero values other than MaxRetries fall
// back to the defaults.
type Options struct {
	BaseURL      string
	BackendModel string
	UserAgent    string
	// MaxRetries is the number of handshake retries after the first attempt.
	MaxRetries int
	// Backoff is the pause between handshake attempts.
	Backoff time.Duration
	// HandshakeTimeout bounds each chat-requirements call.
	HandshakeTimeout time.Duration
	// RequestTimeout bounds the conversation call including the stream.
	RequestTimeout time.Duration
	// Proxy is an optional socks5:// URL for every backend connection.
	Proxy string
	// Cookies are attached to every backend request.
	Cookies map[string]string
	// Solver runs proof-of-work searches; nil gets a default pool.
	Solver *Solver
	// Client overrides the Chrome-fingerprinted HTTP client.
	Client *http.Client
	Logf   func(string, ...any)
}

// Provider is safe for concurrent use; it holds no per-request state.
type Provider struct {
	baseURL          string
	model            string
	userAgent        string
	maxRetries       int
	backoff          time.Duration
	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	proxy            string
	cookies          map[string]string
	solver           *Solver
	client           *http.Client
	dial             httpclient.DialFunc
	logf             func(string, ...any)
}

// New creates a Provider.
func New(opts Options) (*Provider, error) {
	p := &Provider{
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		model:            opts.BackendModel,
		userAgent:        opts.UserAgent,
		maxRetries:       opts.MaxRetries,
		backoff:          opts.Backoff,
		handshakeTimeout: opts.HandshakeTimeout,
		requestTimeout:   opts.RequestTimeout,
		proxy:            opts.Proxy,
		cookies:          make(map[string]string, len(opts.Cookies)),
		solver:           opts.Solver,
		client:           opts.Client,
		logf:             opts.Logf,
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	if p.model == "" {
		p.model = DefaultBackendModel
	}
	if p.userAgent == "" {
		p.userAgent = DefaultUserAgent
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.backoff <= 0 {
		p.backoff = DefaultBackoff
	}
	if p.handshakeTimeout <= 0 {
		p.handshakeTimeout = 30 * time.Second
	}
	if p.requestTimeout <= 0 {
		p.requestTimeout = 180 * time.Second
	}
	if p.logf == nil {
		p.logf = func(string, ...any) {}
	}
	if p.solver == nil {
		p.solver = NewSolver(0, DefaultMaxIterations)
	}
	dial, err := httpclient.Dialer(p.proxy)
	if err != nil {
		return nil, err
	}
	p.dial = dial
	if p.client == nil {
		client, err := httpclient.New(httpclient.Options{Timeout: p.requestTimeout, Proxy: p.proxy})
		if err != nil {
			return nil, err
		}
		p.client = client
	}
	for k, v := range opts.Cookies {
		if v != "" {
			p.cookies[k] = v
		}
	}
	return p, nil
}

// setBrowserHeaders makes a request look like it came from the web app.
func (p *Provider) setBrowserHeaders(req *http.Request) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OAI-Language", "en-US")
	req.Header.Set("Origin", p.baseURL)
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Referer", p.baseURL+"/")
	req.Header.Set("Sec-CH-UA", `"Google Chrome";v="123", "Not:A-Brand";v="8", "Chromium";v="123"`)
	req.Header.Set("Sec-CH-UA-Mobile", "?0")
	req.Header.Set("Sec-CH-UA-Platform", `"Windows"`)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("User-Agent", p.userAgent)
	for name, value := range p.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}
