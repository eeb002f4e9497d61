package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recallbench/internal/config"
	"recallbench/internal/inference"
	"recallbench/internal/metrics"
	"recallbench/internal/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.ResultsDir = t.TempDir()
	cfg.Inference.EmbedDimension = 8
	return cfg
}

func runDirOf(t *testing.T, root string) string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("reading results root: %v", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	if len(dirs) != 1 {
		t.Fatalf("expected one run directory, got %d", len(dirs))
	}
	return dirs[0]
}

func countJSON(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

func TestRunSeedBuildsAndTearsDown(t *testing.T) {
	cfg := testConfig(t)
	runner := NewRunner(cfg, inference.NewFakeService(8), nil)

	sum, err := runner.RunSeed(context.Background(), 0)
	if err != nil {
		t.Fatalf("seed run failed: %v", err)
	}
	if sum.Corpus == nil || sum.Corpus.Total != 32 {
		t.Fatalf("expected 32 seed entries, got %+v", sum.Corpus)
	}
	if sum.Corpus.Skipped != 0 {
		t.Errorf("expected no skips, got %d", sum.Corpus.Skipped)
	}

	dir := runDirOf(t, cfg.Output.ResultsDir)
	for _, name := range []string{report.RunJSON, report.SummaryJSON, report.SummaryMD} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s in run dir: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "corpus.db")); !os.IsNotExist(err) {
		t.Error("expected ephemeral store to be destroyed after the run")
	}
}

func TestRunFuseEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	runner := NewRunner(cfg, inference.NewFakeService(8), nil)

	sum, err := runner.RunFuse(context.Background(), 0)
	if err != nil {
		t.Fatalf("fuse run failed: %v", err)
	}
	if sum.Queries != 16 {
		t.Errorf("expected 16 queries, got %d", sum.Queries)
	}
	if sum.Failures.Total() != 0 {
		t.Errorf("expected a clean run, got failures %+v", sum.Failures)
	}

	dir := runDirOf(t, cfg.Output.ResultsDir)
	if n := countJSON(t, filepath.Join(dir, report.ChannelsSubdir)); n != 16 {
		t.Errorf("expected 16 channel files, got %d", n)
	}
	if n := countJSON(t, filepath.Join(dir, report.FusedSubdir)); n != 16 {
		t.Errorf("expected 16 fused files, got %d", n)
	}

	var fusedDirect bool
	for _, m := range sum.Summaries {
		if m.Stage == metrics.StageFused && m.QueryType == "direct" {
			fusedDirect = true
			if m.Queries != 6 {
				t.Errorf("expected 6 direct queries in fused summary, got %d", m.Queries)
			}
		}
	}
	if !fusedDirect {
		t.Error("expected a fused/direct summary row")
	}
	if len(sum.Comparisons) == 0 {
		t.Error("expected fused-vs-channel comparisons")
	}
	if sum.MaxNegativeRerank != nil {
		t.Error("expected no rerank measurement on a fuse run")
	}
}

func TestRunChannelsOmitsFusion(t *testing.T) {
	cfg := testConfig(t)
	runner := NewRunner(cfg, inference.NewFakeService(8), nil)

	sum, err := runner.RunChannels(context.Background(), 0)
	if err != nil {
		t.Fatalf("channels run failed: %v", err)
	}

	dir := runDirOf(t, cfg.Output.ResultsDir)
	if n := countJSON(t, filepath.Join(dir, report.FusedSubdir)); n != 0 {
		t.Errorf("expected no fused files, got %d", n)
	}
	for _, m := range sum.Summaries {
		if m.Stage == metrics.StageFused || m.Stage == metrics.StageReranked {
			t.Errorf("expected channel stages only, got %s", m.Stage)
		}
	}
	if len(sum.Comparisons) != 0 {
		t.Errorf("expected no comparisons, got %d", len(sum.Comparisons))
	}
}

func TestRunRerankNegativeRegression(t *testing.T) {
	cfg := testConfig(t)
	svc := inference.NewFakeService(8)

	// The stub judge says "no" to anything asked about a negative query
	// and "yes" otherwise.
	negativeFragments := []string{"sourdough", "quantum", "estimated tax", "orchid"}
	svc.LogprobsFunc = func(prompt string, topK int) ([]inference.TokenLogprob, error) {
		for _, frag := range negativeFragments {
			if strings.Contains(prompt, frag) {
				return []inference.TokenLogprob{
					{Token: "no", Logprob: -0.02},
					{Token: "yes", Logprob: -4.5},
				}, nil
			}
		}
		return []inference.TokenLogprob{
			{Token: "yes", Logprob: -0.05},
			{Token: "no", Logprob: -3.2},
		}, nil
	}
	runner := NewRunner(cfg, svc, nil)

	sum, err := runner.RunRerank(context.Background(), 0)
	if err != nil {
		t.Fatalf("rerank run failed: %v", err)
	}

	dir := runDirOf(t, cfg.Output.ResultsDir)
	if n := countJSON(t, filepath.Join(dir, report.RerankedSubdir)); n != 16 {
		t.Errorf("expected 16 reranked files, got %d", n)
	}

	if sum.MaxNegativeRerank == nil {
		t.Fatal("expected a negative-query rerank measurement")
	}
	if *sum.MaxNegativeRerank >= 0.1 {
		t.Errorf("expected max negative rerank score below 0.1, got %f", *sum.MaxNegativeRerank)
	}

	var reranked bool
	for _, m := range sum.Summaries {
		if m.Stage == metrics.StageReranked {
			reranked = true
		}
	}
	if !reranked {
		t.Error("expected reranked summary rows")
	}
	var comparison bool
	for _, d := range sum.Comparisons {
		if d.Base == metrics.StageFused && d.Other == metrics.StageReranked {
			comparison = true
		}
	}
	if !comparison {
		t.Error("expected a reranked-vs-fused comparison")
	}
	if sum.Failures.Reranks != 0 {
		t.Errorf("expected no rerank failures, got %d", sum.Failures.Reranks)
	}
}

func TestRunSweepWritesDistanceFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Parquet = true
	runner := NewRunner(cfg, inference.NewFakeService(8), nil)

	sum, err := runner.RunSweep(context.Background(), []int{10, 20, 40})
	if err != nil {
		t.Fatalf("sweep run failed: %v", err)
	}
	if len(sum.Scales) != 3 {
		t.Fatalf("expected 3 scale points, got %d", len(sum.Scales))
	}
	// Without a background cache the 40-entry corpus tops out at the 32
	// seeds; the shortfall is visible in the entry count.
	for i, wantEntries := range []int{10, 20, 32} {
		if sum.Scales[i].Entries != wantEntries {
			t.Errorf("expected scale %d to hold %d entries, got %d",
				sum.Scales[i].Scale, wantEntries, sum.Scales[i].Entries)
		}
	}
	if sum.Verdict == nil {
		t.Error("expected a cross-scale verdict")
	}
	if len(sum.Sweep) != cfg.Eval.SweepSteps {
		t.Errorf("expected %d sweep points, got %d", cfg.Eval.SweepSteps, len(sum.Sweep))
	}

	dir := runDirOf(t, cfg.Output.ResultsDir)
	for _, scale := range []int{10, 20, 40} {
		for _, pattern := range []string{"distances_%d.csv", "distances_%d.parquet"} {
			path := filepath.Join(dir, fmt.Sprintf(pattern, scale))
			if _, err := os.Stat(path); err != nil {
				t.Errorf("expected distance file for scale %d: %v", scale, err)
			}
		}
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("corpus_%d.db", scale))); !os.IsNotExist(err) {
			t.Errorf("expected scale %d store to be destroyed", scale)
		}
	}
}

func TestPreflightBlocksBadSetup(t *testing.T) {
	t.Run("unreachable inference server", func(t *testing.T) {
		cfg := testConfig(t)
		svc := inference.NewFakeService(8)
		svc.PingErr = errors.New("connection refused")
		runner := NewRunner(cfg, svc, nil)

		_, err := runner.RunSeed(context.Background(), 0)
		if err == nil || !strings.Contains(err.Error(), "unreachable") {
			t.Fatalf("expected unreachable-server error, got %v", err)
		}
		if entries, _ := os.ReadDir(cfg.Output.ResultsDir); len(entries) != 0 {
			t.Error("expected no run directory after a failed preflight")
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = "bolt"
		runner := NewRunner(cfg, inference.NewFakeService(8), nil)

		_, err := runner.RunFuse(context.Background(), 0)
		if err == nil || !strings.Contains(err.Error(), "store backend") {
			t.Fatalf("expected config error, got %v", err)
		}
		if entries, _ := os.ReadDir(cfg.Output.ResultsDir); len(entries) != 0 {
			t.Error("expected no run directory after a failed preflight")
		}
	})
}
