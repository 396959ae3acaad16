package server

import (
	"crypto/subtle"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// cors lets browser clients call the API from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey rejects requests whose bearer token differs from the
// configured key. An empty key disables the check.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	if s.cfg.APIKey == "" {
		return next
	}
	want := []byte(s.cfg.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			s.respondError(w, http.StatusUnauthorized, errTypeAuthentication, "Invalid API key provided.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers proxy-supplied addresses over the socket peer.
func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipLimiter is a per-client sliding window: at most limit requests in any
// window-long span.
type ipLimiter struct {
	limit     int
	window    time.Duration
	whitelist map[string]struct{}
	now       func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func newIPLimiter(limit int, window time.Duration, whitelist []string) *ipLimiter {
	l := &ipLimiter{
		limit:     limit,
		window:    window,
		whitelist: make(map[string]struct{}, len(whitelist)),
		now:       time.Now,
		hits:      make(map[string][]time.Time),
		stop:      make(chan struct{}),
	}
	for _, ip := range whitelist {
		l.whitelist[ip] = struct{}{}
	}
	return l
}

// allow records a request from ip. When denied it reports how long until
// the oldest request leaves the window.
func (l *ipLimiter) allow(ip string) (bool, time.Duration) {
	if _, ok := l.whitelist[ip]; ok {
		return true, 0
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hits[ip]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= l.limit {
		l.hits[ip] = hits
		return false, hits[0].Sub(cutoff)
	}
	l.hits[ip] = append(hits, now)
	return true, 0
}

// sweep forgets clients with no request inside the window.
func (l *ipLimiter) sweep() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, ip)
		}
	}
}

func (l *ipLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *ipLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.allow(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			s.respondError(w, http.StatusTooManyRequests, errTypeRateLimit, "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
