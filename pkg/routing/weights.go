package routing

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/iohelper"
	"github.com/bypassforge/bypassforge/pkg/jsonutil"
)

// WeightStore holds the per-signature routing weights the review engine
// tunes between engagements. Weights stay within [RouteWeightMin,
// RouteWeightMax] regardless of adjustment size.
type WeightStore struct {
	mu      sync.RWMutex
	weights map[string]float64
	initial float64
}

// NewWeightStore creates a store where every signature starts at the
// default weight.
func NewWeightStore() *WeightStore {
	return &WeightStore{
		weights: make(map[string]float64),
		initial: defaults.RouteWeight,
	}
}

// Get returns the weight for a signature id, or the initial weight when
// the id has never been adjusted.
func (w *WeightStore) Get(signatureID string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if v, ok := w.weights[signatureID]; ok {
		return v
	}
	return w.initial
}

// Set stores a weight, clamped to the allowed band.
func (w *WeightStore) Set(signatureID string, weight float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.weights[signatureID] = clampWeight(weight)
}

// Adjust shifts a weight by delta and returns the clamped result.
func (w *WeightStore) Adjust(signatureID string, delta float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	current, ok := w.weights[signatureID]
	if !ok {
		current = w.initial
	}
	next := clampWeight(current + delta)
	w.weights[signatureID] = next
	return next
}

// Snapshot returns a sorted copy of all explicitly set weights.
func (w *WeightStore) Snapshot() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]float64, len(w.weights))
	for k, v := range w.weights {
		out[k] = v
	}
	return out
}

// IDs returns the explicitly set signature ids, sorted.
func (w *WeightStore) IDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.weights))
	for id := range w.weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SaveFile persists the weights as JSON.
func (w *WeightStore) SaveFile(path string) error {
	data, err := jsonutil.MarshalIndent(w.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("routing: marshal weights: %w", err)
	}
	if err := iohelper.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("routing: save weights: %w", err)
	}
	return nil
}

// LoadFile merges persisted weights into the store. A missing file is not
// an error: the store simply starts fresh.
func (w *WeightStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("routing: read weights: %w", err)
	}
	var loaded map[string]float64
	if err := jsonutil.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("routing: parse weights: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, v := range loaded {
		w.weights[id] = clampWeight(v)
	}
	return nil
}

func clampWeight(v float64) float64 {
	if v < defaults.RouteWeightMin {
		return defaults.RouteWeightMin
	}
	if v > defaults.RouteWeightMax {
		return defaults.RouteWeightMax
	}
	return v
}
