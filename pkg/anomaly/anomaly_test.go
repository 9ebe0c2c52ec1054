package anomaly

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bypassforge/bypassforge/pkg/delta"
)

func TestAppendAssignsIdentity(t *testing.T) {
	buf, err := Open(t.TempDir(), "eng-1", nil)
	require.NoError(t, err)
	defer buf.Close()

	rec, err := buf.Append(Record{
		ObstacleID:      "obs-1",
		ConfidenceScore: 0.42,
		ChangeSummary:   "timing shifted",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, "eng-1", rec.EngagementID)
	assert.Equal(t, 1, buf.Len())
}

func TestBufferSurvivesRestart(t *testing.T) {
	root := t.TempDir()

	buf, err := Open(root, "eng-1", nil)
	require.NoError(t, err)
	_, err = buf.Append(Record{ObstacleID: "obs-1", ChangeSummary: "first"})
	require.NoError(t, err)
	_, err = buf.Append(Record{ObstacleID: "obs-2", ChangeSummary: "second"})
	require.NoError(t, err)
	require.NoError(t, buf.Close())

	reopened, err := Open(root, "eng-1", nil)
	require.NoError(t, err)
	defer reopened.Close()

	records := reopened.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].ChangeSummary)
	assert.Equal(t, "second", records[1].ChangeSummary)

	// Appends continue after the reload.
	_, err = reopened.Append(Record{ObstacleID: "obs-3"})
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len())
}

func TestOpenToleratesCorruptTrailingLine(t *testing.T) {
	root := t.TempDir()

	buf, err := Open(root, "eng-1", nil)
	require.NoError(t, err)
	_, err = buf.Append(Record{ChangeSummary: "good"})
	require.NoError(t, err)
	require.NoError(t, buf.Close())

	// Simulate a crash mid-write.
	path := filepath.Join(root, "eng-1.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"trunc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(root, "eng-1", nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())
}

func TestEngagementsAreIsolated(t *testing.T) {
	root := t.TempDir()

	a, err := Open(root, "eng-a", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(root, "eng-b", nil)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Append(Record{ChangeSummary: "only in a"})
	require.NoError(t, err)
	assert.Zero(t, b.Len())
}

func TestConcurrentAppends(t *testing.T) {
	buf, err := Open(t.TempDir(), "eng-1", nil)
	require.NoError(t, err)
	defer buf.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := buf.Append(Record{ChangeSummary: "concurrent"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, buf.Len())
}

func TestPruneByCount(t *testing.T) {
	root := t.TempDir()
	buf, err := Open(root, "eng-1", nil)
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 10; i++ {
		_, err := buf.Append(Record{ChangeSummary: "r"})
		require.NoError(t, err)
	}
	require.NoError(t, buf.Prune(4, time.Hour))
	assert.Equal(t, 4, buf.Len())

	// The rewrite is durable and the buffer still accepts appends.
	_, err = buf.Append(Record{ChangeSummary: "after prune"})
	require.NoError(t, err)
	require.NoError(t, buf.Close())

	reopened, err := Open(root, "eng-1", nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 5, reopened.Len())
}

func TestPruneByAge(t *testing.T) {
	buf, err := Open(t.TempDir(), "eng-1", nil)
	require.NoError(t, err)
	defer buf.Close()

	_, err = buf.Append(Record{ChangeSummary: "fresh"})
	require.NoError(t, err)

	// Age everything past the cutoff by hand.
	buf.mu.Lock()
	buf.records[0].Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	buf.mu.Unlock()

	require.NoError(t, buf.Prune(100, 24*time.Hour))
	assert.Zero(t, buf.Len())
}

func TestExportJSON(t *testing.T) {
	buf, err := Open(t.TempDir(), "eng-1", nil)
	require.NoError(t, err)
	defer buf.Close()

	_, err = buf.Append(Record{ChangeSummary: "exported", ConfidenceScore: 0.5})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, buf.ExportJSON(&out))
	assert.Contains(t, out.String(), `"exported"`)
	assert.Contains(t, out.String(), `"eng-1"`)
}

func TestExportCSVSanitizesFormulas(t *testing.T) {
	buf, err := Open(t.TempDir(), "eng-1", nil)
	require.NoError(t, err)
	defer buf.Close()

	_, err = buf.Append(Record{
		ObstacleID:    "obs-1",
		ChangeSummary: "=HYPERLINK(evil)",
		Delta:         delta.Delta{StatusChanged: true, Similarity: 0.5},
		Context:       map[string]string{"strategy": "encoding/url_single", "lane": "deterministic"},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, buf.ExportCSV(&out))

	reader := csv.NewReader(strings.NewReader(out.String()))
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "'=HYPERLINK(evil)", rows[1][5])
	assert.Equal(t, "encoding/url_single", rows[1][10])
}
