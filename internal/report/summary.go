package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"recallbench/evals"
	"recallbench/internal/analysis"
	"recallbench/internal/corpus"
	"recallbench/internal/metrics"
)

// FailureCounts tallies the partial failures a run absorbed without
// aborting. They belong in every summary so a clean-looking table can't
// hide a half-broken run.
type FailureCounts struct {
	Channels int `json:"channels"`
	Reranks  int `json:"reranks"`
	Scans    int `json:"scans"`
}

// Total sums all failure classes.
func (f FailureCounts) Total() int { return f.Channels + f.Reranks + f.Scans }

// RunSummary is the machine-readable result of one run. The experiment
// runner fills it; this package persists and renders it.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Command    string    `json:"command"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Store      string    `json:"store"`
	EmbedModel string    `json:"embed_model"`
	GenModel   string    `json:"gen_model"`
	QuerySet   string    `json:"query_set"`
	Queries    int       `json:"queries"`

	Corpus      *corpus.BuildResult    `json:"corpus,omitempty"`
	Summaries   []metrics.Summary      `json:"summaries,omitempty"`
	Comparisons []metrics.Delta        `json:"comparisons,omitempty"`
	Scales      []analysis.ScalePoint  `json:"scales,omitempty"`
	Verdict     *analysis.ScaleVerdict `json:"verdict,omitempty"`
	Sweep       []analysis.SweepPoint  `json:"sweep,omitempty"`

	// MaxNegativeRerank is the highest cross-encoder score any negative
	// query's candidate received. Healthy runs keep it well under 0.1.
	MaxNegativeRerank *float64 `json:"max_negative_rerank_score,omitempty"`

	Failures FailureCounts `json:"failures"`
}

// Headline picks the number a cross-run index shows: fused direct
// precision@10, falling back to reranked, then any direct stage.
func (s *RunSummary) Headline() (float64, string, bool) {
	for _, stage := range []string{metrics.StageFused, metrics.StageReranked} {
		for _, sum := range s.Summaries {
			if sum.Stage == stage && sum.QueryType == string(evals.Direct) {
				return sum.MeanPrecision[metrics.DefaultKLarge], stage, true
			}
		}
	}
	for _, sum := range s.Summaries {
		if sum.QueryType == string(evals.Direct) {
			return sum.MeanPrecision[metrics.DefaultKLarge], sum.Stage, true
		}
	}
	return 0, "", false
}

// WriteSummary persists summary.json and summary.md into runDir.
func WriteSummary(runDir string, sum *RunSummary) error {
	if err := WriteJSON(filepath.Join(runDir, SummaryJSON), sum); err != nil {
		return err
	}
	md := RenderMarkdown(sum)
	if err := os.WriteFile(filepath.Join(runDir, SummaryMD), []byte(md), 0o644); err != nil {
		return fmt.Errorf("writing summary.md: %w", err)
	}
	return nil
}

// RenderMarkdown renders the full run summary as a markdown document.
func RenderMarkdown(s *RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# recallbench %s run %s\n\n", s.Command, shortID(s.RunID))
	fmt.Fprintf(&b, "- started: %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- duration: %.1fs\n", float64(s.DurationMS)/1000)
	fmt.Fprintf(&b, "- store: %s\n", s.Store)
	fmt.Fprintf(&b, "- models: embed=%s gen=%s\n", s.EmbedModel, s.GenModel)
	fmt.Fprintf(&b, "- query set: %s (%d queries)\n", s.QuerySet, s.Queries)
	if s.Corpus != nil {
		fmt.Fprintf(&b, "- corpus: total=%d seeded=%d paraphrased=%d background=%d skipped=%d\n",
			s.Corpus.Total, s.Corpus.Seeded, s.Corpus.Paraphrased, s.Corpus.Background, s.Corpus.Skipped)
	}
	b.WriteString("\n")

	scored, negative := splitSummaries(s.Summaries)
	if len(scored) > 0 {
		b.WriteString("## Retrieval quality\n\n")
		b.WriteString("| stage | type | queries | p@5 | p@10 | hit@5 | hit@10 |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, m := range scored {
			fmt.Fprintf(&b, "| %s | %s | %d | %.3f | %.3f | %.2f | %.2f |\n",
				m.Stage, m.QueryType, m.Queries,
				m.MeanPrecision[metrics.DefaultKSmall], m.MeanPrecision[metrics.DefaultKLarge],
				m.HitRate[metrics.DefaultKSmall], m.HitRate[metrics.DefaultKLarge])
		}
		b.WriteString("\n")
	}

	if len(negative) > 0 {
		b.WriteString("## Negative queries\n\n")
		b.WriteString("| stage | queries | false positives | clean rate |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, m := range negative {
			fmt.Fprintf(&b, "| %s | %d | %d | %.2f |\n", m.Stage, m.Queries, m.FalsePositives, m.CleanRate)
		}
		b.WriteString("\n")
	}

	if len(s.Comparisons) > 0 {
		b.WriteString("## Stage comparison\n\n")
		b.WriteString("| comparison | type | k | base | other | gain |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, d := range s.Comparisons {
			fmt.Fprintf(&b, "| %s vs %s | %s | %d | %.3f | %.3f | %+.3f |\n",
				d.Other, d.Base, d.QueryType, d.K, d.BasePrecision, d.OtherPrecision, d.Gain)
		}
		b.WriteString("\n")
	}

	if len(s.Scales) > 0 {
		b.WriteString("## Threshold sensitivity\n\n")
		b.WriteString("| scale | entries | mean relevant | min irrelevant | nearest negative |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, p := range s.Scales {
			fmt.Fprintf(&b, "| %d | %d | %.4f | %.4f | %.4f |\n",
				p.Scale, p.Entries, p.MeanRelevant, p.MinIrrelevant, p.NearestNegative)
		}
		b.WriteString("\n")
		if s.Verdict != nil {
			fmt.Fprintf(&b, "- mean relevant distance stable across scales: %s (spread %.4f)\n",
				yesNo(s.Verdict.MeanRelevantStable), s.Verdict.MeanRelevantSpread)
			fmt.Fprintf(&b, "- min irrelevant distance shrinks as the corpus grows: %s\n\n",
				yesNo(s.Verdict.MinIrrelevantShrinks))
		}
	}

	if len(s.Sweep) > 0 {
		b.WriteString("## Threshold sweep (largest scale)\n\n")
		b.WriteString("| threshold | recall | precision | tp | fp | fn |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, p := range s.Sweep {
			fmt.Fprintf(&b, "| %.4f | %.3f | %.3f | %d | %d | %d |\n",
				p.Threshold, p.Recall, p.Precision, p.TP, p.FP, p.FN)
		}
		b.WriteString("\n")
	}

	if s.MaxNegativeRerank != nil {
		fmt.Fprintf(&b, "- max rerank score on negative queries: %.4f\n\n", *s.MaxNegativeRerank)
	}

	if s.Failures.Total() > 0 {
		b.WriteString("## Partial failures\n\n")
		fmt.Fprintf(&b, "- channel searches failed: %d\n", s.Failures.Channels)
		fmt.Fprintf(&b, "- rerank judgments failed: %d\n", s.Failures.Reranks)
		fmt.Fprintf(&b, "- distance scans failed: %d\n", s.Failures.Scans)
		b.WriteString("\n")
	}
	return b.String()
}

// Render prints the summary to w for a terminal. Color is dropped
// automatically when w is not a TTY.
func Render(w io.Writer, s *RunSummary) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "recallbench %s run %s\n", s.Command, shortID(s.RunID))
	fmt.Fprintf(w, "store=%s queries=%d duration=%.1fs\n", s.Store, s.Queries, float64(s.DurationMS)/1000)
	if s.Corpus != nil {
		fmt.Fprintf(w, "corpus total=%d (seeded=%d paraphrased=%d background=%d skipped=%d)\n",
			s.Corpus.Total, s.Corpus.Seeded, s.Corpus.Paraphrased, s.Corpus.Background, s.Corpus.Skipped)
	}

	scored, negative := splitSummaries(s.Summaries)
	if len(scored) > 0 {
		bold.Fprintln(w, "\nretrieval quality")
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "stage\ttype\tqueries\tp@5\tp@10\thit@5\thit@10")
		for _, m := range scored {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%.3f\t%.2f\t%.2f\n",
				m.Stage, m.QueryType, m.Queries,
				m.MeanPrecision[metrics.DefaultKSmall], m.MeanPrecision[metrics.DefaultKLarge],
				m.HitRate[metrics.DefaultKSmall], m.HitRate[metrics.DefaultKLarge])
		}
		tw.Flush()
	}

	if len(negative) > 0 {
		bold.Fprintln(w, "\nnegative queries")
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "stage\tqueries\tfalse positives\tclean rate")
		for _, m := range negative {
			fp := fmt.Sprintf("%d", m.FalsePositives)
			if m.FalsePositives > 0 {
				fp = color.RedString("%d", m.FalsePositives)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f\n", m.Stage, m.Queries, fp, m.CleanRate)
		}
		tw.Flush()
	}

	if len(s.Comparisons) > 0 {
		bold.Fprintln(w, "\nstage comparison")
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "comparison\ttype\tk\tbase\tother\tgain")
		for _, d := range s.Comparisons {
			gain := fmt.Sprintf("%+.3f", d.Gain)
			switch {
			case d.Gain > 0:
				gain = color.GreenString("%+.3f", d.Gain)
			case d.Gain < 0:
				gain = color.RedString("%+.3f", d.Gain)
			}
			fmt.Fprintf(tw, "%s vs %s\t%s\t%d\t%.3f\t%.3f\t%s\n",
				d.Other, d.Base, d.QueryType, d.K, d.BasePrecision, d.OtherPrecision, gain)
		}
		tw.Flush()
	}

	if len(s.Scales) > 0 {
		bold.Fprintln(w, "\nthreshold sensitivity")
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "scale\tentries\tmean relevant\tmin irrelevant\tnearest negative")
		for _, p := range s.Scales {
			fmt.Fprintf(tw, "%d\t%d\t%.4f\t%.4f\t%.4f\n",
				p.Scale, p.Entries, p.MeanRelevant, p.MinIrrelevant, p.NearestNegative)
		}
		tw.Flush()
		if s.Verdict != nil {
			fmt.Fprintf(w, "mean relevant stable: %s (spread %.4f)\n",
				coloredYesNo(s.Verdict.MeanRelevantStable), s.Verdict.MeanRelevantSpread)
			fmt.Fprintf(w, "min irrelevant shrinks: %s\n", coloredYesNo(s.Verdict.MinIrrelevantShrinks))
		}
	}

	if s.Failures.Total() > 0 {
		fmt.Fprintf(w, "\n%s channels=%d reranks=%d scans=%d\n",
			color.YellowString("partial failures:"), s.Failures.Channels, s.Failures.Reranks, s.Failures.Scans)
	}
}

func splitSummaries(all []metrics.Summary) (scored, negative []metrics.Summary) {
	for _, m := range all {
		if m.QueryType == string(evals.Negative) {
			negative = append(negative, m)
		} else {
			scored = append(scored, m)
		}
	}
	return scored, negative
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func coloredYesNo(v bool) string {
	if v {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}
