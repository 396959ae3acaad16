// Package config loads freegpt settings from the YAML config file, a .env
// file and FREEGPT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kyupark/freegpt/internal/provider/chatgpt"
)

const (
	appName    = "freegpt"
	configFile = "config.yaml"

	DefaultAddr             = ":3040"
	DefaultModelLabel       = "gpt-3.5-turbo"
	DefaultSupportURL       = "https://discord.pawan.krd"
	DefaultMaxRetries       = chatgpt.DefaultMaxRetries
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultRequestTimeout   = 180 * time.Second
	DefaultPowMaxIterations = 100_000
	DefaultRateLimit        = 50
	DefaultRateWindow       = 15 * time.Second
	DefaultTunnelWait       = 30 * time.Second
)

// Config is the top-level configuration.
type Config struct {
	Addr         string `yaml:"addr"`
	BaseURL      string `yaml:"base_url"`
	BackendModel string `yaml:"backend_model"`
	ModelLabel   string `yaml:"model_label"`
	UserAgent    string `yaml:"user_agent"`
	APIKey       string `yaml:"api_key,omitempty"`
	SupportURL   string `yaml:"support_url,omitempty"`
	Proxy        string `yaml:"proxy,omitempty"`

	MaxRetries       int           `yaml:"max_retries"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PowMaxIterations int           `yaml:"pow_max_iterations"`
	// PowWorkers bounds concurrent proof-of-work searches; 0 means GOMAXPROCS.
	PowWorkers int `yaml:"pow_workers"`
	// SessionCacheTTL enables reuse of challenge-free sessions when > 0.
	SessionCacheTTL time.Duration `yaml:"session_cache_ttl"`

	RateLimit     int           `yaml:"rate_limit"`
	RateWindow    time.Duration `yaml:"rate_window"`
	RateWhitelist []string      `yaml:"rate_whitelist"`

	LedgerPath     string `yaml:"ledger_path,omitempty"`
	LogFile        string `yaml:"log_file,omitempty"`
	Verbose        bool   `yaml:"verbose"`
	Tunnel         bool   `yaml:"tunnel"`
	TunnelBinary   string `yaml:"tunnel_binary,omitempty"`
	BrowserCookies bool   `yaml:"browser_cookies"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:             DefaultAddr,
		BaseURL:          chatgpt.DefaultBaseURL,
		BackendModel:     chatgpt.DefaultBackendModel,
		ModelLabel:       DefaultModelLabel,
		UserAgent:        chatgpt.DefaultUserAgent,
		SupportURL:       DefaultSupportURL,
		MaxRetries:       DefaultMaxRetries,
		HandshakeTimeout: DefaultHandshakeTimeout,
		RequestTimeout:   DefaultRequestTimeout,
		PowMaxIterations: DefaultPowMaxIterations,
		RateLimit:        DefaultRateLimit,
		RateWindow:       DefaultRateWindow,
		RateWhitelist:    []string{"127.0.0.1"},
	}
}

// Load reads the config file at path (FilePath when empty), then .env in
// the working directory, then the environment. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, cfg.Validate()
}

// LoadFile reads only the config file, ignoring .env and the environment.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		path = FilePath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// applyEnv overrides fields from FREEGPT_* variables. SERVER_PORT and PORT
// are honoured for hosting platforms that set them.
func (c *Config) applyEnv(getenv func(string) string) error {
	if port := strings.TrimSpace(firstNonEmpty(getenv("SERVER_PORT"), getenv("PORT"))); port != "" {
		c.Addr = ":" + port
	}
	strs := map[string]*string{
		"FREEGPT_ADDR":          &c.Addr,
		"FREEGPT_BASE_URL":      &c.BaseURL,
		"FREEGPT_BACKEND_MODEL": &c.BackendModel,
		"FREEGPT_MODEL_LABEL":   &c.ModelLabel,
		"FREEGPT_USER_AGENT":    &c.UserAgent,
		"FREEGPT_API_KEY":       &c.APIKey,
		"FREEGPT_SUPPORT_URL":   &c.SupportURL,
		"FREEGPT_PROXY":         &c.Proxy,
		"FREEGPT_LEDGER_PATH":   &c.LedgerPath,
		"FREEGPT_LOG_FILE":      &c.LogFile,
		"FREEGPT_TUNNEL_BINARY": &c.TunnelBinary,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FREEGPT_MAX_RETRIES":        &c.MaxRetries,
		"FREEGPT_POW_MAX_ITERATIONS": &c.PowMaxIterations,
		"FREEGPT_POW_WORKERS":        &c.PowWorkers,
		"FREEGPT_RATE_LIMIT":         &c.RateLimit,
	}
	for name, dst := range ints {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"FREEGPT_HANDSHAKE_TIMEOUT": &c.HandshakeTimeout,
		"FREEGPT_REQUEST_TIMEOUT":   &c.RequestTimeout,
		"FREEGPT_SESSION_CACHE_TTL": &c.SessionCacheTTL,
		"FREEGPT_RATE_WINDOW":       &c.RateWindow,
	}
	for name, dst := range durations {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}

	bools := map[string]*bool{
		"FREEGPT_VERBOSE":         &c.Verbose,
		"FREEGPT_TUNNEL":          &c.Tunnel,
		"FREEGPT_BROWSER_COOKIES": &c.BrowserCookies,
	}
	for name, dst := range bools {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}

	if v := getenv("FREEGPT_RATE_WHITELIST"); strings.TrimSpace(v) != "" {
		c.RateWhitelist = parseCSV(v)
	}
	return nil
}

// fillDefaults restores defaults for fields a file or variable blanked.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.BackendModel == "" {
		c.BackendModel = d.BackendModel
	}
	if c.ModelLabel == "" {
		c.ModelLabel = d.ModelLabel
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.PowMaxIterations == 0 {
		c.PowMaxIterations = d.PowMaxIterations
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("addr %q: %w", c.Addr, err))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.HandshakeTimeout < 0 || c.RequestTimeout < 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.PowMaxIterations < 0 || c.PowWorkers < 0 {
		errs = append(errs, errors.New("pow_max_iterations and pow_workers must be >= 0"))
	}
	if c.SessionCacheTTL < 0 {
		errs = append(errs, errors.New("session_cache_ttl must be >= 0"))
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateWindow <= 0) {
		errs = append(errs, errors.New("rate_limit needs a positive rate_window"))
	}
	if c.Proxy != "" && !strings.HasPrefix(c.Proxy, "socks5://") && !strings.HasPrefix(c.Proxy, "socks5h://") {
		errs = append(errs, fmt.Errorf("proxy %q: only socks5:// and socks5h:// are supported", c.Proxy))
	}
	return errors.Join(errs...)
}

// PublicBaseURL is the local API root callers should configure.
func (c *Config) PublicBaseURL() string {
	_, port, err := net.SplitHostPort(c.Addr)
	if err != nil || port == "" {
		port = "3040"
	}
	return "http://localhost:" + port + "/v1"
}

// Keys lists the settable keys in file order.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		keys = append(keys, name)
	}
	return keys
}

// Set assigns value to key, converting it the way the config file would.
// List values are comma separated.
func (c *Config) Set(key, value string) error {
	if !slices.Contains(Keys(), key) {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	val := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	if key == "rate_whitelist" {
		val = &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range parseCSV(value) {
			val.Content = append(val.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: item})
		}
	}
	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: key},
		val,
	}}
	if err := doc.Decode(c); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return c.Validate()
}

// Masked returns a copy safe to print.
func (c *Config) Masked() *Config {
	m := *c
	m.RateWhitelist = slices.Clone(c.RateWhitelist)
	m.APIKey = mask(c.APIKey)
	if i := strings.Index(c.Proxy, "@"); i >= 0 {
		scheme, _, _ := strings.Cut(c.Proxy, "://")
		m.Proxy = scheme + "://****" + c.Proxy[i:]
	}
	return &m
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:3] + "****" + s[len(s)-4:]
	}
}

// Save writes the config file at path (FilePath when empty).
func Save(cfg *Config, path string) error {
	if path == "" {
		path = FilePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// FilePath returns the path to the config file.
func FilePath() string {
	return filepath.Join(configBaseDir(), appName, configFile)
}

// DataDir is where the ledger lives by default.
func DataDir() string {
	return filepath.Join(configBaseDir(), appName)
}

func configBaseDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(home, ".config")
	}
	return dir
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
