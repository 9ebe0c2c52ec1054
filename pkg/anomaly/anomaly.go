// Package anomaly persists every unexplained response deviation as an
// append-only JSONL trail per engagement. The buffer survives process
// restarts and tolerates trailing corruption from a crashed writer.
package anomaly

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bypassforge/bypassforge/pkg/bufpool"
	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/delta"
	"github.com/bypassforge/bypassforge/pkg/iohelper"
	"github.com/bypassforge/bypassforge/pkg/jsonutil"
)

// Record is one observed deviation worth a second look.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	EngagementID string    `json:"engagement_id"`
	ObstacleID   string    `json:"obstacle_id,omitempty"`

	Delta           delta.Delta `json:"delta"`
	ConfidenceScore float64     `json:"confidence_score"`
	ChangeSummary   string      `json:"change_summary"`

	// Context carries free-form attempt context: strategy, lane, payload
	// excerpt. Keys are writer-defined.
	Context map[string]string `json:"context,omitempty"`
}

// Buffer is a per-engagement append-only anomaly trail backed by a JSONL
// file. Safe for concurrent appends.
type Buffer struct {
	mu           sync.Mutex
	path         string
	engagementID string
	file         *os.File
	enc          *jsonutil.Encoder
	records      []Record
	logger       *slog.Logger
}

// Open creates or resumes the engagement's buffer under root. Existing
// records are loaded back into memory; lines that fail to parse (a crashed
// writer leaves at most one) are logged and skipped.
func Open(root, engagementID string, logger *slog.Logger) (*Buffer, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("anomaly: create buffer dir: %w", err)
	}
	path := filepath.Join(root, engagementID+".jsonl")

	records, skipped, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		logger.Warn("anomaly buffer has unparseable lines",
			slog.String("engagement_id", engagementID),
			slog.Int("skipped", skipped))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("anomaly: open buffer: %w", err)
	}

	return &Buffer{
		path:         path,
		engagementID: engagementID,
		file:         file,
		enc:          jsonutil.NewEncoder(file),
		records:      records,
		logger:       logger,
	}, nil
}

func readRecords(path string) (records []Record, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("anomaly: read buffer: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := jsonutil.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("anomaly: scan buffer: %w", err)
	}
	return records, skipped, nil
}

// Append records a deviation. The record id and timestamp are assigned
// here; the write hits the file before Append returns.
func (b *Buffer) Append(rec Record) (Record, error) {
	rec.ID = uuid.NewString()
	rec.Timestamp = time.Now().UTC()
	rec.EngagementID = b.engagementID

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enc.Encode(rec); err != nil {
		return Record{}, fmt.Errorf("anomaly: append record: %w", err)
	}
	b.records = append(b.records, rec)
	return rec, nil
}

// Records returns a copy of the in-memory records, oldest first.
func (b *Buffer) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Len returns the record count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Prune drops records past the age or count caps and rewrites the file
// through a temp rename. Appends are held off while the rewrite runs.
func (b *Buffer) Prune(maxRecords int, maxAge time.Duration) error {
	if maxRecords <= 0 {
		maxRecords = defaults.AnomalyMaxRecords
	}
	if maxAge <= 0 {
		maxAge = defaults.AnomalyMaxAge
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.records[:0:0]
	for _, rec := range b.records {
		if rec.Timestamp.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	if len(kept) > maxRecords {
		kept = kept[len(kept)-maxRecords:]
	}
	if len(kept) == len(b.records) {
		return nil
	}

	buf := bufpool.Get()
	defer bufpool.Put(buf)
	enc := jsonutil.NewEncoder(buf)
	for _, rec := range kept {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("anomaly: prune encode: %w", err)
		}
	}

	if err := b.file.Close(); err != nil {
		return fmt.Errorf("anomaly: prune swap: %w", err)
	}
	if err := iohelper.WriteFileAtomic(b.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("anomaly: prune commit: %w", err)
	}
	file, err := os.OpenFile(b.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("anomaly: prune reopen: %w", err)
	}

	b.file = file
	b.enc = jsonutil.NewEncoder(file)
	b.records = kept
	b.logger.Info("anomaly buffer pruned",
		slog.String("engagement_id", b.engagementID),
		slog.Int("kept", len(kept)))
	return nil
}

// Close flushes and closes the underlying file.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

// ExportJSON writes the full record set as a JSON array.
func (b *Buffer) ExportJSON(w io.Writer) error {
	records := b.Records()
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	data, err := jsonutil.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("anomaly: export json: %w", err)
	}
	_, err = w.Write(data)
	return err
}
