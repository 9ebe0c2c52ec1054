package baseline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bypassforge/bypassforge/pkg/probe"
)

// scriptedExecutor replays a fixed fingerprint sequence.
type scriptedExecutor struct {
	fingerprints []*probe.Fingerprint
	errs         []error
	calls        int
}

func (s *scriptedExecutor) Execute(ctx context.Context, targetURL, payload string, opts probe.RequestOptions) (*probe.Fingerprint, error) {
	i := s.calls
	s.calls++
	if i >= len(s.fingerprints) {
		i = len(s.fingerprints) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.fingerprints[i], err
}

func fp(status, length int, ms float64) *probe.Fingerprint {
	return &probe.Fingerprint{
		StatusCode:     status,
		BodyLength:     length,
		ResponseTimeMs: []float64{ms},
		Headers:        map[string]string{"Server": "nginx"},
	}
}

func TestComputeUniformSamples(t *testing.T) {
	samples := []*probe.Fingerprint{
		fp(200, 512, 150), fp(200, 512, 150), fp(200, 512, 150),
		fp(200, 512, 150), fp(200, 512, 150),
	}
	stats := Compute(samples)
	require.NotNil(t, stats)

	assert.InDelta(t, 150.0, stats.MeanResponseTime, 0.0001)
	assert.Zero(t, stats.StdDevResponseTime)
	assert.InDelta(t, 512.0, stats.MeanBodyLength, 0.0001)
	assert.Zero(t, stats.StdDevBodyLength)
	assert.Equal(t, 200, stats.StatusCode)
	assert.Equal(t, 5, stats.Samples)
	assert.Equal(t, "nginx", stats.CommonHeaders["Server"])
}

func TestComputeDisagreeingStatusFallsBack(t *testing.T) {
	stats := Compute([]*probe.Fingerprint{fp(200, 10, 1), fp(404, 10, 1)})
	assert.Equal(t, 200, stats.StatusCode)

	stats = Compute([]*probe.Fingerprint{fp(404, 10, 1), fp(503, 10, 1)})
	assert.Equal(t, 200, stats.StatusCode)
}

func TestComputeDropsVaryingHeaders(t *testing.T) {
	a := fp(200, 10, 1)
	b := fp(200, 10, 1)
	b.Headers = map[string]string{"Server": "apache"}
	stats := Compute([]*probe.Fingerprint{a, b})
	assert.Empty(t, stats.CommonHeaders)
}

func TestComputeStdDev(t *testing.T) {
	stats := Compute([]*probe.Fingerprint{fp(200, 100, 100), fp(200, 100, 200)})
	assert.InDelta(t, 150.0, stats.MeanResponseTime, 0.0001)
	assert.InDelta(t, 50.0, stats.StdDevResponseTime, 0.0001)
}

func TestComputeEmpty(t *testing.T) {
	assert.Nil(t, Compute(nil))
}

func TestCaptureSkipsFailedSamples(t *testing.T) {
	failed := &probe.Fingerprint{ErrorClass: "timeout"}
	exec := &scriptedExecutor{
		fingerprints: []*probe.Fingerprint{fp(200, 64, 10), failed, fp(200, 64, 12)},
		errs:         []error{nil, fmt.Errorf("%w: timeout", probe.ErrProbeFailed), nil},
	}

	m := NewManager(exec, WithSamples(3), WithSampleDelay(0))
	stats, err := m.Capture(context.Background(), "http://target", probe.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Samples)
	assert.Equal(t, 3, exec.calls)
}

func TestCaptureAllFailed(t *testing.T) {
	failed := &probe.Fingerprint{ErrorClass: "connection_refused"}
	exec := &scriptedExecutor{
		fingerprints: []*probe.Fingerprint{failed},
		errs:         []error{fmt.Errorf("%w: connection_refused", probe.ErrProbeFailed)},
	}

	m := NewManager(exec, WithSamples(3), WithSampleDelay(0))
	_, err := m.Capture(context.Background(), "http://target", probe.RequestOptions{})
	assert.ErrorIs(t, err, ErrCaptureFailed)
}

func TestCapturePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &scriptedExecutor{
		fingerprints: []*probe.Fingerprint{nil},
		errs:         []error{ctx.Err()},
	}
	m := NewManager(exec, WithSamples(2), WithSampleDelay(0))
	_, err := m.Capture(ctx, "http://target", probe.RequestOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStoreSaveLoadDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	snap := &Snapshot{
		EngagementID: "eng-1",
		TargetURL:    "http://target",
		Statistics:   Compute([]*probe.Fingerprint{fp(200, 64, 10)}),
	}
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load("eng-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "http://target", loaded.TargetURL)
	assert.Equal(t, 200, loaded.Statistics.StatusCode)

	missing, err := store.Load("eng-2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Delete("eng-1"))
	require.NoError(t, store.Delete("eng-1"))
}
