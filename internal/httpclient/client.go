// Package httpclient provides an HTTP client that mimics Chrome's TLS
// fingerprint using uTLS. Cloudflare in front of the chat backend rejects
// Go's default TLS ClientHello.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Options configures New.
type Options struct {
	// Timeout bounds a whole exchange, body included. Zero means none.
	Timeout time.Duration
	// Proxy is an optional socks5:// or socks5h:// URL.
	Proxy string
}

// New returns an *http.Client whose TLS handshake looks like Chrome.
// Every HTTPS request gets a fresh TLS connection: the backend hands out
// one streamed answer per request so pooling buys little.
func New(opts Options) (*http.Client, error) {
	dial, err := Dialer(opts.Proxy)
	if err != nil {
		return nil, err
	}
	plain := http.DefaultTransport.(*http.Transport).Clone()
	plain.DialContext = dial
	plain.Proxy = nil

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &chromeTransport{dial: dial, plain: plain},
	}, nil
}

// DialFunc dials a TCP connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Dialer returns a direct dialer, or one tunnelling through the SOCKS5
// proxy at proxyURL.
func Dialer(proxyURL string) (DialFunc, error) {
	direct := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if proxyURL == "" {
		return direct.DialContext, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy url: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("unsupported proxy scheme %q (want socks5)", u.Scheme)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("creating proxy dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return func(_ context.Context, network, addr string) (net.Conn, error) {
			return d.Dial(network, addr)
		}, nil
	}
	return cd.DialContext, nil
}

// chromeTransport implements http.RoundTripper with a uTLS Chrome fingerprint.
type chromeTransport struct {
	dial  DialFunc
	plain *http.Transport
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	host := req.URL.Hostname()
	addr := net.JoinHostPort(host, portFromURL(req.URL))

	rawConn, err := t.dial(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName: host,
		NextProtos: []string{"h2", "http/1.1"},
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(req.Context()); err != nil {
		rawConn.Close()
		return nil, err
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2t := &http2.Transport{
			DialTLSContext: func(_ context.Context, _, _ string, _ *tls.Config) (net.Conn, error) {
				return tlsConn, nil
			},
		}
		return h2t.RoundTrip(req)
	}

	h1t := &http.Transport{
		DialTLSContext: func(_ context.Context, _, _ string) (net.Conn, error) {
			return tlsConn, nil
		},
		DisableKeepAlives: true,
	}
	return h1t.RoundTrip(req)
}

func portFromURL(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}
