// Package httpclient provides a shared, tuned HTTP client factory for probe
// traffic. Connections are pooled and redirects are never followed: the
// engine needs to see the redirect response itself, not its destination.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bypassforge/bypassforge/pkg/defaults"
)

// Config holds HTTP client options.
type Config struct {
	// Timeout is the total request timeout.
	Timeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification. Probe targets
	// in test engagements frequently present self-signed certificates.
	InsecureSkipVerify bool

	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string

	// MaxIdleConns is the idle connection cap across all hosts.
	MaxIdleConns int

	// MaxConnsPerHost caps connections per host.
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections stay pooled.
	IdleConnTimeout time.Duration

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
}

// DefaultConfig returns defaults tuned for sustained probing of one target.
func DefaultConfig() Config {
	return Config{
		Timeout:            defaults.ProbeTimeout,
		InsecureSkipVerify: true,
		MaxIdleConns:       50,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    defaults.IdleConnTimeout,
		DialTimeout:        defaults.DialTimeout,
	}
}

var (
	defaultClient *http.Client
	defaultOnce   sync.Once
)

// Default returns a shared, pre-configured HTTP client safe for concurrent
// use. Prefer Default over per-call clients so probes reuse connections.
func Default() *http.Client {
	defaultOnce.Do(func() {
		defaultClient = New(DefaultConfig())
	})
	return defaultClient
}

// New creates an HTTP client with the given configuration. Zero values fall
// back to DefaultConfig equivalents.
func New(cfg Config) *http.Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.ProbeTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 50
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 10
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = defaults.IdleConnTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: defaults.KeepAliveInterval,
	}

	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: defaults.ExpectContinueTimeout,
		TLSHandshakeTimeout:   cfg.DialTimeout,
		DialContext:           dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	if cfg.Proxy != "" {
		if proxyURL, err := url.Parse(cfg.Proxy); err == nil && proxyURL != nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		// Malformed proxy URLs are ignored; probing continues direct.
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
