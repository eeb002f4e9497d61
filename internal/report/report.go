// Package report owns the results directory: per-run layout, JSON and
// markdown summary files, colorized terminal rendering, and the watch
// mode that keeps a cross-run index fresh.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Subdirectories of a run directory holding per-query ranked lists.
const (
	ChannelsSubdir = "channels"
	FusedSubdir    = "fused"
	RerankedSubdir = "reranked"
)

// Fixed file names within a run directory.
const (
	SummaryJSON = "summary.json"
	SummaryMD   = "summary.md"
	RunJSON     = "run.json"
	IndexMD     = "index.md"
)

// RunDirName builds the directory name for one run, timestamp first so
// lexical order is chronological order.
func RunDirName(start time.Time, runID string) string {
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	return start.UTC().Format("20060102-150405") + "-" + id
}

// NewRunDir creates the run directory and its list subdirectories under
// root, returning the run directory path.
func NewRunDir(root string, start time.Time, runID string) (string, error) {
	dir := filepath.Join(root, RunDirName(start, runID))
	for _, sub := range []string{ChannelsSubdir, FusedSubdir, RerankedSubdir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
	}
	return dir, nil
}

// WriteJSON writes v indented to path, creating parent directories.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ListRuns returns the run directories under root that contain a
// summary.json, sorted by name ascending (chronological).
func ListRuns(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading results root %s: %w", root, err)
	}
	var runs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, SummaryJSON)); err == nil {
			runs = append(runs, dir)
		}
	}
	sort.Strings(runs)
	return runs, nil
}
