package report

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts of file events into one re-render. A
// finishing run writes a dozen files back to back; rendering once after
// the burst settles is enough.
const DefaultDebounce = 500 * time.Millisecond

// Regenerate re-renders summary.md for every run under root from its
// summary.json and rebuilds the cross-run index.md.
func Regenerate(root string) error {
	runs, err := ListRuns(root)
	if err != nil {
		return err
	}

	var rows []indexRow
	for _, dir := range runs {
		var sum RunSummary
		if err := ReadJSON(filepath.Join(dir, SummaryJSON), &sum); err != nil {
			log.Printf("[report] skipping %s: %v", dir, err)
			continue
		}
		md := RenderMarkdown(&sum)
		if err := os.WriteFile(filepath.Join(dir, SummaryMD), []byte(md), 0o644); err != nil {
			return fmt.Errorf("writing summary.md: %w", err)
		}
		rows = append(rows, indexRow{dir: filepath.Base(dir), sum: sum})
	}

	index := renderIndex(rows)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating results root: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, IndexMD), []byte(index), 0o644); err != nil {
		return fmt.Errorf("writing index.md: %w", err)
	}
	return nil
}

// Watch re-renders the index whenever run files land under root, until
// ctx is canceled.
func Watch(ctx context.Context, root string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating results root: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()
	if err := addTree(watcher, root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	log.Printf("[report] watching %s", root)
	timer := time.NewTimer(debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, ev.Name); err != nil {
						log.Printf("[report] watch %s: %v", ev.Name, err)
					}
				}
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename) {
				// Our own renders would otherwise retrigger forever.
				base := filepath.Base(ev.Name)
				if base == SummaryMD || base == IndexMD {
					continue
				}
				timer.Reset(debounce)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[report] watch error: %v", werr)
		case <-timer.C:
			if err := Regenerate(root); err != nil {
				log.Printf("[report] regenerate: %v", err)
			} else {
				log.Printf("[report] index refreshed")
			}
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

type indexRow struct {
	dir string
	sum RunSummary
}

func renderIndex(rows []indexRow) string {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].sum.StartedAt.After(rows[j].sum.StartedAt)
	})

	var b strings.Builder
	b.WriteString("# recallbench runs\n\n")
	if len(rows) == 0 {
		b.WriteString("No completed runs yet.\n")
		return b.String()
	}
	b.WriteString("| run | command | started | queries | headline | failures |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range rows {
		headline := "-"
		if v, stage, ok := r.sum.Headline(); ok {
			headline = fmt.Sprintf("p@10 %.3f (%s)", v, stage)
		}
		fmt.Fprintf(&b, "| [%s](%s/%s) | %s | %s | %d | %s | %d |\n",
			r.dir, r.dir, SummaryMD, r.sum.Command,
			r.sum.StartedAt.UTC().Format(time.RFC3339), r.sum.Queries,
			headline, r.sum.Failures.Total())
	}
	return b.String()
}
