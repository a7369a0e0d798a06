package cmd

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/heapshot-analysis/internal/heapshot"
	"github.com/heapshot-analysis/pkg/filter"
	"github.com/heapshot-analysis/pkg/model"
)

type analyzeOptions struct {
	input     string
	live      bool
	stopAfter time.Duration
	top       int
	types     typeFilter
	out       outputFlags
}

func newAnalyzeCmd(a *app) *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "List the heapshots in a capture",
		Long: `Process a capture and summarize every complete heap walk it contains.

The input is a local file or a key in the configured storage. Gzip and zstd
compressed captures are detected automatically. With --live the capture is
followed as the profiler writes it, until interrupted or --for elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAnalyze(cmd.Context(), o)
		},
	}

	cmd.Flags().StringVarP(&o.input, "input", "i", "", "Capture file or storage key (required)")
	cmd.Flags().BoolVar(&o.live, "live", false, "Follow the capture while it is being written")
	cmd.Flags().DurationVar(&o.stopAfter, "for", 0, "Stop following after this long (with --live)")
	cmd.Flags().IntVarP(&o.top, "top", "n", 10, "Types to show per heapshot, by size (0 for all)")
	addFilterFlags(cmd, &o.types)
	addOutputFlags(cmd, &o.out)
	cmd.MarkFlagRequired("input")
	return cmd
}

func addOutputFlags(cmd *cobra.Command, f *outputFlags) {
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the report as JSON")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Also write the JSON report to this file (.gz/.zst compress)")
	cmd.Flags().StringVar(&f.export, "export", "", "Upload the JSON report to this storage key")
}

func (a *app) runAnalyze(ctx context.Context, o *analyzeOptions) error {
	c, err := a.load(ctx, o.input, loadOptions{live: o.live, stopAfter: o.stopAfter})
	if err != nil {
		return err
	}
	defer c.Close()

	// A live run ends with ctx canceled; the report is still wanted.
	ctx = context.WithoutCancel(ctx)

	phase := a.timer.Start("summarize")
	report, err := buildAnalysisReport(c, o.top, o.types)
	phase.Stop()
	if err != nil {
		return err
	}

	done, err := emit(ctx, a, o.out, report)
	if err != nil || done {
		return err
	}
	printAnalysis(a, report)
	return nil
}

func buildAnalysisReport(c *capture, top int, types typeFilter) (*model.AnalysisReport, error) {
	classes := types.classifier()
	report := &model.AnalysisReport{
		Capture:     c.info(),
		Process:     c.processSummary(),
		Heapshots:   []model.HeapshotSummary{},
		GeneratedAt: time.Now().UTC(),
	}

	for _, h := range c.heapshots() {
		all, err := h.TypesBySize()
		if err != nil {
			return nil, err
		}
		summaries := typeSummaries(h, all, classes)
		if types.appOnly {
			summaries = slices.DeleteFunc(summaries, func(t model.TypeSummary) bool {
				return t.Category != filter.CategoryApplication.String()
			})
		}
		if top > 0 && len(summaries) > top {
			summaries = summaries[:top]
		}
		report.Heapshots = append(report.Heapshots, model.HeapshotSummary{
			ID:          h.ID(),
			Name:        h.Name(),
			Timestamp:   h.Timestamp(),
			ObjectCount: h.ObjectCount(),
			TotalSize:   h.TotalSize(),
			Types:       summaries,
		})
	}
	return report, nil
}

func typeSummaries(h *heapshot.Heapshot, types []heapshot.TypeSummary, classes *filter.ClassFilter) []model.TypeSummary {
	out := make([]model.TypeSummary, 0, len(types))
	for _, t := range types {
		name := h.TypeName(t.TypeID)
		out = append(out, model.TypeSummary{
			TypeID:           uint64(t.TypeID),
			TypeName:         name,
			Category:         classes.Classify(name).String(),
			Count:            t.Count,
			Size:             t.Size,
			FinalizableCount: t.FinalizableCount,
			FinalizableSize:  t.FinalizableSize,
		})
	}
	return out
}

func printAnalysis(a *app, r *model.AnalysisReport) {
	printf(a.out, "%s: pid %d, %s, %s bytes in %d buffers, %s events\n",
		r.Capture.Source, r.Capture.ProcessID, r.Capture.Arguments,
		count(r.Process.Bytes), r.Process.Buffers, count(r.Process.Events))
	if r.Process.Canceled {
		printf(a.out, "(stopped before end of stream)\n")
	}
	if len(r.Heapshots) == 0 {
		printf(a.out, "no complete heapshots\n")
		return
	}

	for _, h := range r.Heapshots {
		printf(a.out, "\n%s at %d: %s objects, %s\n", h.Name, h.Timestamp, count(h.ObjectCount), bytesOf(h.TotalSize))
		tw := newTable(a.out)
		fmt.Fprintln(tw, "Count\tSize\tFinalizable\tCategory\tType\t")
		for _, t := range h.Types {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
				count(t.Count), bytesOf(t.Size), count(t.FinalizableCount), t.Category, t.TypeName)
		}
		tw.Flush()
	}
}
