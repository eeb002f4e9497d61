// Package analysis characterizes raw distance distributions: brute-force
// query-to-entry scans, recall/precision sweeps over candidate
// thresholds, and the cross-scale comparison that shows why a fixed
// distance threshold stops working as the corpus grows.
package analysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

// DistanceRecord is one (query, entry) pair from a brute-force scan.
type DistanceRecord struct {
	QueryID  string  `json:"query_id" parquet:"query_id"`
	EntryID  int64   `json:"entry_id" parquet:"entry_id"`
	Distance float64 `json:"distance" parquet:"distance"`
	Relevant bool    `json:"relevant" parquet:"relevant"`
}

// WriteCSV writes records with a header row, one line per pair.
func WriteCSV(path string, records []DistanceRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"query_id", "entry_id", "distance", "relevant"}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.QueryID,
			strconv.FormatInt(r.EntryID, 10),
			strconv.FormatFloat(r.Distance, 'f', 6, 64),
			strconv.FormatBool(r.Relevant),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}

// WriteParquet writes the same records in Parquet form, which keeps the
// 10k-scale scans cheap to analyze downstream.
func WriteParquet(path string, records []DistanceRecord) error {
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
