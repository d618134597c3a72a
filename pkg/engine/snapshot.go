package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultSnapshotPath is the baseline file written next to the scan target.
const DefaultSnapshotPath = ".gosec-agg-snapshot.json"

// Snapshot is the on-disk form of a graph.
type Snapshot struct {
	ScanID    string    `json:"scan_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Findings  []Finding `json:"findings"`
}

// SnapshotDiff groups findings by how they changed against a baseline.
type SnapshotDiff struct {
	New       []Finding `json:"new"`
	Fixed     []Finding `json:"fixed"`
	Unchanged []Finding `json:"unchanged"`
}

// SaveSnapshot writes the graph to path as JSON.
func (g *UnifiedGraph) SaveSnapshot(path string) error {
	findings := g.List()
	snap := Snapshot{CreatedAt: time.Now().UTC(), Findings: findings}
	if len(findings) > 0 {
		snap.ScanID = findings[0].ScanID
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// LoadSnapshot replaces the graph contents with the snapshot at path.
func (g *UnifiedGraph) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Findings = Dedup(snap.Findings)
	return nil
}

// CompareSnapshot diffs the graph against a baseline by fingerprint.
func (g *UnifiedGraph) CompareSnapshot(baseline *UnifiedGraph) SnapshotDiff {
	current := g.List()
	previous := baseline.List()

	prevByFP := make(map[string]bool, len(previous))
	for _, f := range previous {
		prevByFP[f.Fingerprint] = true
	}
	curByFP := make(map[string]bool, len(current))
	for _, f := range current {
		curByFP[f.Fingerprint] = true
	}

	diff := SnapshotDiff{New: []Finding{}, Fixed: []Finding{}, Unchanged: []Finding{}}
	for _, f := range current {
		if prevByFP[f.Fingerprint] {
			diff.Unchanged = append(diff.Unchanged, f)
		} else {
			diff.New = append(diff.New, f)
		}
	}
	for _, f := range previous {
		if !curByFP[f.Fingerprint] {
			diff.Fixed = append(diff.Fixed, f)
		}
	}
	return diff
}
