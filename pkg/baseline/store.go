package baseline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bypassforge/bypassforge/pkg/iohelper"
	"github.com/bypassforge/bypassforge/pkg/jsonutil"
)

// Snapshot is the persisted form of an engagement baseline.
type Snapshot struct {
	EngagementID string      `json:"engagement_id"`
	TargetURL    string      `json:"target_url"`
	CapturedAt   time.Time   `json:"captured_at"`
	Statistics   *Statistics `json:"statistics"`
}

// Store persists baselines as one JSON file per engagement, so a restarted
// process can resume without re-probing the target.
type Store struct {
	root string
}

// NewStore creates the store directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("baseline: create store dir: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(engagementID string) string {
	return filepath.Join(s.root, engagementID+".json")
}

// Save writes the snapshot atomically via a temp file rename.
func (s *Store) Save(snap *Snapshot) error {
	data, err := jsonutil.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("baseline: marshal snapshot: %w", err)
	}
	if err := iohelper.WriteFileAtomic(s.path(snap.EngagementID), data, 0o644); err != nil {
		return fmt.Errorf("baseline: save snapshot: %w", err)
	}
	return nil
}

// Load reads a saved snapshot. A missing or corrupt file returns
// (nil, nil): the caller recaptures rather than failing the engagement.
func (s *Store) Load(engagementID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(engagementID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("baseline: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := jsonutil.Unmarshal(data, &snap); err != nil {
		return nil, nil
	}
	return &snap, nil
}

// Delete removes an engagement's snapshot. Missing files are not an error.
func (s *Store) Delete(engagementID string) error {
	err := os.Remove(s.path(engagementID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("baseline: delete snapshot: %w", err)
	}
	return nil
}
