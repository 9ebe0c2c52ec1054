package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/time/rate"

	"github.com/bypassforge/bypassforge/pkg/bufpool"
	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/httpclient"
)

// fingerprintHeaders are the response headers retained in a Fingerprint.
// Kept small: these are the ones defensive layers actually vary.
var fingerprintHeaders = []string{
	"Content-Type",
	"Server",
	"X-Powered-By",
	"Retry-After",
	"Www-Authenticate",
	"Cf-Ray",
	"X-Cache",
}

// HTTPExecutor is the production Executor. It shares one tuned client and
// one rate limiter across all engagements in the process.
type HTTPExecutor struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	timeout time.Duration
}

// ExecutorOption configures an HTTPExecutor.
type ExecutorOption func(*HTTPExecutor)

// WithClient replaces the default HTTP client.
func WithClient(c *http.Client) ExecutorOption {
	return func(e *HTTPExecutor) { e.client = c }
}

// WithRateLimit overrides the probes-per-second ceiling.
func WithRateLimit(perSecond float64) ExecutorOption {
	return func(e *HTTPExecutor) {
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *HTTPExecutor) { e.logger = l }
}

// WithTimeout overrides the default per-sample timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *HTTPExecutor) { e.timeout = d }
}

// NewHTTPExecutor creates an executor with the tuned default client, the
// default rate ceiling, and a discarding logger.
func NewHTTPExecutor(opts ...ExecutorOption) *HTTPExecutor {
	e := &HTTPExecutor{
		client:  httpclient.Default(),
		limiter: rate.NewLimiter(rate.Limit(defaults.ProbeRateLimit), 1),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: defaults.ProbeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends the payload at targetURL and fingerprints the response.
// TimingSamples above one repeats the probe back to back, keeping the last
// response and one timing entry per sample.
func (e *HTTPExecutor) Execute(ctx context.Context, targetURL, payload string, opts RequestOptions) (*Fingerprint, error) {
	samples := opts.TimingSamples
	if samples < 1 {
		samples = 1
	}

	if opts.DelayBefore > 0 {
		select {
		case <-time.After(opts.DelayBefore):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var fp *Fingerprint
	var timings []float64
	for i := 0; i < samples; i++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		current, err := e.fire(ctx, targetURL, payload, opts)
		if err != nil && current == nil {
			return nil, err
		}
		timings = append(timings, current.ResponseTimeMs...)
		fp = current
		if !fp.OK() {
			break
		}
	}
	fp.ResponseTimeMs = timings

	e.logger.Debug("probe executed",
		slog.String("target", targetURL),
		slog.Int("status", fp.StatusCode),
		slog.Int("body_length", fp.BodyLength),
		slog.String("error_class", fp.ErrorClass),
		slog.Int("samples", len(timings)))

	if !fp.OK() {
		return fp, fmt.Errorf("%w: %s", ErrProbeFailed, fp.ErrorClass)
	}
	return fp, nil
}

// fire runs one sample. Transport failures return a Fingerprint carrying
// the error class along with a nil error; only request construction and
// context cancellation surface as (nil, err).
func (e *HTTPExecutor) fire(ctx context.Context, targetURL, payload string, opts RequestOptions) (*Fingerprint, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	sampleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := e.buildRequest(sampleCtx, targetURL, payload, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Fingerprint{
			ErrorClass:     ClassifyError(err),
			ResponseTimeMs: []float64{elapsed},
		}, nil
	}
	defer resp.Body.Close()

	buf := bufpool.GetSized(defaults.BodySampleSize)
	defer bufpool.Put(buf)
	if _, err := io.Copy(buf, io.LimitReader(resp.Body, defaults.MaxBodyRead)); err != nil {
		return &Fingerprint{
			StatusCode:     resp.StatusCode,
			ErrorClass:     ClassifyError(err),
			ResponseTimeMs: []float64{elapsed},
		}, nil
	}
	body := buf.Bytes()

	sample := body
	if len(sample) > defaults.BodySampleSize {
		sample = sample[:defaults.BodySampleSize]
	}

	headers := make(map[string]string, len(fingerprintHeaders))
	for _, h := range fingerprintHeaders {
		if v := resp.Header.Get(h); v != "" {
			headers[h] = v
		}
	}

	return &Fingerprint{
		StatusCode:     resp.StatusCode,
		BodyHash:       murmur3.Sum64(body),
		BodyLength:     len(body),
		ResponseTimeMs: []float64{elapsed},
		Headers:        headers,
		RawBodySample:  string(sample),
	}, nil
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, targetURL, payload string, opts RequestOptions) (*http.Request, error) {
	param := opts.ParamName
	if param == "" {
		param = "id"
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodHead {
		u, parseErr := url.Parse(targetURL)
		if parseErr != nil {
			return nil, fmt.Errorf("probe: parse target: %w", parseErr)
		}
		q := u.Query()
		q.Set(param, payload)
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		form := url.Values{param: {payload}}
		req, err = http.NewRequestWithContext(ctx, method, targetURL, strings.NewReader(form.Encode()))
		if err == nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("probe: build request: %w", err)
	}

	req.Header.Set("User-Agent", defaults.ToolName+"/"+defaults.Version)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// ClassifyError maps a transport error to a stable class name. The class
// feeds delta scoring: connection resets and timeouts on a mutated probe
// are signals in their own right.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_failure"
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return "tls_error"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection_refused"
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return "connection_reset"
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return "tls_error"
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(msg, "eof"):
		return "connection_dropped"
	default:
		return "transport_error"
	}
}
