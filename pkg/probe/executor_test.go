package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spaolacci/murmur3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteFingerprintsResponse(t *testing.T) {
	const body = "<html>hello world</html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(WithRateLimit(1000))
	fp, err := e.Execute(context.Background(), srv.URL, "payload", RequestOptions{})
	require.NoError(t, err)

	assert.True(t, fp.OK())
	assert.Equal(t, http.StatusTeapot, fp.StatusCode)
	assert.Equal(t, len(body), fp.BodyLength)
	assert.Equal(t, murmur3.Sum64([]byte(body)), fp.BodyHash)
	assert.Equal(t, body, fp.RawBodySample)
	assert.Equal(t, "nginx", fp.Headers["Server"])
	assert.Len(t, fp.ResponseTimeMs, 1)
	assert.Greater(t, fp.ResponseTimeMs[0], 0.0)
}

func TestExecutePutsPayloadInTargetParam(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("q")
	}))
	defer srv.Close()

	e := NewHTTPExecutor(WithRateLimit(1000))
	_, err := e.Execute(context.Background(), srv.URL, "' OR 1=1", RequestOptions{ParamName: "q"})
	require.NoError(t, err)
	assert.Equal(t, "' OR 1=1", got)
}

func TestExecutePostSendsFormBody(t *testing.T) {
	var gotValue, gotCT, gotOverride string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotValue = r.PostForm.Get("id")
		gotCT = r.Header.Get("Content-Type")
		gotOverride = r.Header.Get("X-HTTP-Method-Override")
	}))
	defer srv.Close()

	e := NewHTTPExecutor(WithRateLimit(1000))
	_, err := e.Execute(context.Background(), srv.URL, "xyz", RequestOptions{
		Method:  http.MethodPost,
		Headers: map[string]string{"X-HTTP-Method-Override": "GET"},
	})
	require.NoError(t, err)
	assert.Equal(t, "xyz", gotValue)
	assert.Equal(t, "application/x-www-form-urlencoded", gotCT)
	assert.Equal(t, "GET", gotOverride)
}

func TestExecuteCollectsTimingSamples(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	e := NewHTTPExecutor(WithRateLimit(1000))
	fp, err := e.Execute(context.Background(), srv.URL, "x", RequestOptions{TimingSamples: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, hits)
	assert.Len(t, fp.ResponseTimeMs, 3)
}

func TestExecuteClassifiesRefusedConnection(t *testing.T) {
	// Reserve a port, then close it so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	e := NewHTTPExecutor(WithRateLimit(1000))
	fp, err := e.Execute(context.Background(), "http://"+addr, "x", RequestOptions{})
	require.ErrorIs(t, err, ErrProbeFailed)
	require.NotNil(t, fp)
	assert.False(t, fp.OK())
	assert.Equal(t, "connection_refused", fp.ErrorClass)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	e := NewHTTPExecutor(WithRateLimit(1000))
	_, err := e.Execute(ctx, srv.URL, "x", RequestOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExecuteTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(WithRateLimit(1000))
	fp, err := e.Execute(context.Background(), srv.URL, "x", RequestOptions{Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, ErrProbeFailed)
	assert.Equal(t, "timeout", fp.ErrorClass)
}

func TestMeanResponseTime(t *testing.T) {
	fp := &Fingerprint{ResponseTimeMs: []float64{10, 20, 30}}
	assert.InDelta(t, 20.0, fp.MeanResponseTime(), 0.0001)

	empty := &Fingerprint{}
	assert.Zero(t, empty.MeanResponseTime())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "", ClassifyError(nil))
	assert.Equal(t, "timeout", ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, "connection_refused", ClassifyError(errors.New("dial tcp 127.0.0.1:1: connect: connection refused")))
	assert.Equal(t, "connection_reset", ClassifyError(errors.New("read tcp: connection reset by peer")))
	assert.Equal(t, "dns_failure", ClassifyError(&net.DNSError{Err: "no such host", Name: "nope.invalid"}))
	assert.Equal(t, "tls_error", ClassifyError(errors.New("tls: handshake failure")))
	assert.Equal(t, "transport_error", ClassifyError(errors.New("something else")))
}
