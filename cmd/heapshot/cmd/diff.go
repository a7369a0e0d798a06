package cmd

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/heapshot-analysis/internal/diff"
	"github.com/heapshot-analysis/internal/heapshot"
	"github.com/heapshot-analysis/internal/parser/mlog"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/model"
	"github.com/heapshot-analysis/pkg/parallel"
)

type diffOptions struct {
	input    string
	oldInput string
	newInput string
	oldID    int
	newID    int
	top      int
	save     bool

	typeID string
	limit  int
	sortBy string

	types typeFilter
	out   outputFlags
}

func newDiffCmd(a *app) *cobra.Command {
	o := &diffOptions{}
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare two heapshots by allocation identity",
		Long: `Compare two heapshots and report, per type, the objects that are new, new
and held only by the finalizer queue, or dead.

Both heapshots can come from one capture (-i, defaulting to the last two) or
from two captures (--old-input and --new-input, defaulting to the last
heapshot of each), which are processed concurrently. Allocation ids are only
comparable within one capture, so a two-capture diff reports every object of
the older heapshot as dead and every object of the newer one as new.

Heapshot ids count from 1 in stream order; 0 is the last heapshot and
negative ids count back from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("old") && o.oldInput == "" {
				o.oldID = -1
			}
			return a.runDiff(cmd.Context(), o)
		},
	}

	cmd.Flags().StringVarP(&o.input, "input", "i", "", "Capture holding both heapshots")
	cmd.Flags().StringVar(&o.oldInput, "old-input", "", "Capture holding the baseline heapshot")
	cmd.Flags().StringVar(&o.newInput, "new-input", "", "Capture holding the compared heapshot")
	cmd.Flags().IntVar(&o.oldID, "old", 0, "Baseline heapshot id")
	cmd.Flags().IntVar(&o.newID, "new", 0, "Compared heapshot id")
	cmd.Flags().IntVarP(&o.top, "top", "n", 20, "Types to show, by growth (0 for all)")
	cmd.Flags().BoolVar(&o.save, "save", false, "Store the report in the report database")
	cmd.Flags().StringVar(&o.typeID, "type", "", "List the objects of this type id (e.g. 0x7f00a0)")
	cmd.Flags().IntVar(&o.limit, "limit", 20, "Objects to list per set with --type (0 for all)")
	cmd.Flags().StringVar(&o.sortBy, "sort", string(heapshot.SortBySize), "Object order with --type: address, alloc_id, size")
	addFilterFlags(cmd, &o.types)
	addOutputFlags(cmd, &o.out)
	cmd.MarkFlagsMutuallyExclusive("input", "old-input")
	cmd.MarkFlagsMutuallyExclusive("input", "new-input")
	cmd.MarkFlagsRequiredTogether("old-input", "new-input")
	return cmd
}

func (a *app) runDiff(ctx context.Context, o *diffOptions) error {
	older, newer, captures, err := a.loadPair(ctx, o)
	for _, c := range captures {
		defer c.Close()
	}
	if err != nil {
		return err
	}

	phase := a.timer.Start("diff")
	d, err := diff.New(ctx, older, newer, &diff.Options{Logger: a.log})
	phase.Stop()
	if err != nil {
		return err
	}
	defer d.Close()

	report := buildDiffReport(d, captures, o)
	if o.save || a.cfg.Database.Enabled {
		if err := a.saveReport(ctx, report); err != nil {
			return err
		}
	}

	done, err := emit(ctx, a, o.out, report)
	if err != nil || done {
		return err
	}
	printDiff(a, report, o.top)

	if o.typeID != "" {
		return a.printTypeObjects(ctx, d, o)
	}
	return nil
}

// loadPair returns the two heapshots to compare along with every capture
// that was opened, which the caller must close even on error.
func (a *app) loadPair(ctx context.Context, o *diffOptions) (*heapshot.Heapshot, *heapshot.Heapshot, []*capture, error) {
	if o.oldInput == "" {
		if o.input == "" {
			return nil, nil, nil, apperrors.New(apperrors.CodeInvalidInput, "either --input or --old-input and --new-input is required")
		}
		c, err := a.load(ctx, o.input, loadOptions{})
		if err != nil {
			return nil, nil, nil, err
		}
		captures := []*capture{c}
		older, err := c.heapshot(o.oldID)
		if err != nil {
			return nil, nil, captures, err
		}
		newer, err := c.heapshot(o.newID)
		if err != nil {
			return nil, nil, captures, err
		}
		return older, newer, captures, nil
	}

	var (
		mu     sync.Mutex
		opened []*capture
	)
	pool := parallel.NewWorkerPool[string, *capture](parallel.DefaultPoolConfig().WithWorkers(a.cfg.Processor.Workers))
	loaded, err := pool.Map(ctx, []string{o.oldInput, o.newInput}, func(ctx context.Context, input string) (*capture, error) {
		c, err := a.load(ctx, input, loadOptions{})
		if err != nil {
			return nil, err
		}
		mu.Lock()
		opened = append(opened, c)
		mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, nil, opened, err
	}

	m := pool.Metrics()
	a.log.Debug("loaded %d captures in %v", m.TotalTasks, m.TotalDuration)

	older, err := loaded[0].heapshot(o.oldID)
	if err != nil {
		return nil, nil, loaded, err
	}
	newer, err := loaded[1].heapshot(o.newID)
	if err != nil {
		return nil, nil, loaded, err
	}
	return older, newer, loaded, nil
}

func buildDiffReport(d *diff.DiffHeap, captures []*capture, o *diffOptions) *model.DiffReport {
	report := &model.DiffReport{
		OldHeapshot: d.Old().ID(),
		NewHeapshot: d.New().ID(),
		Rows:        []model.TypeDiffRow{},
		CreatedAt:   time.Now().UTC(),
	}
	if len(captures) == 1 {
		info := captures[0].info()
		report.Capture = &info
		report.OldSource, report.NewSource = o.input, o.input
	} else {
		report.OldSource, report.NewSource = o.oldInput, o.newInput
	}

	classes := o.types.classifier()
	for _, td := range d.Changed() {
		named := d.New()
		if td.New.IsEmpty() && td.NewFinalizable.IsEmpty() {
			named = d.Old()
		}
		name := named.TypeName(td.TypeID)
		if o.types.appOnly && !classes.IsApplication(name) {
			continue
		}
		report.Rows = append(report.Rows, model.TypeDiffRow{
			TypeID:              uint64(td.TypeID),
			TypeName:            name,
			NewCount:            td.New.Count(),
			NewSize:             td.New.TotalSize(),
			NewFinalizableCount: td.NewFinalizable.Count(),
			NewFinalizableSize:  td.NewFinalizable.TotalSize(),
			DeadCount:           td.Dead.Count(),
			DeadSize:            td.Dead.TotalSize(),
		})
	}
	report.SumRows()
	return report
}

func printDiff(a *app, r *model.DiffReport, top int) {
	printf(a.out, "Heapshot %d (%s) -> Heapshot %d (%s)\n", r.OldHeapshot, r.OldSource, r.NewHeapshot, r.NewSource)
	if r.ID != 0 {
		printf(a.out, "saved as report %d\n", r.ID)
	}
	t := r.Totals
	printf(a.out, "new %s (%s), new finalizable %s (%s), dead %s (%s), net %s\n\n",
		count(t.NewCount), bytesOf(t.NewSize),
		count(t.NewFinalizableCount), bytesOf(t.NewFinalizableSize),
		count(t.DeadCount), bytesOf(t.DeadSize), signedBytes(t.Growth()))

	if len(r.Rows) == 0 {
		printf(a.out, "no differences\n")
		return
	}

	rows := r.Rows
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	tw := newTable(a.out)
	fmt.Fprintln(tw, "New\tNew Size\tFinalizable\tDead\tDead Size\tGrowth\tType\t")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			count(row.NewCount), bytesOf(row.NewSize), count(row.NewFinalizableCount),
			count(row.DeadCount), bytesOf(row.DeadSize), signedBytes(row.Growth()), row.TypeName)
	}
	tw.Flush()
	if len(rows) < len(r.Rows) {
		printf(a.out, "... %d more types\n", len(r.Rows)-len(rows))
	}
}

func (a *app) printTypeObjects(ctx context.Context, d *diff.DiffHeap, o *diffOptions) error {
	raw, err := strconv.ParseUint(o.typeID, 0, 64)
	if err != nil {
		return apperrors.Newf(apperrors.CodeInvalidInput, "invalid type id %q", o.typeID)
	}
	td := d.Diff(mlog.Pointer(raw))
	opts := heapshot.ListOptions{
		OrderBy:    heapshot.SortKey(o.sortBy),
		Descending: heapshot.SortKey(o.sortBy) == heapshot.SortBySize,
		Limit:      o.limit,
	}

	sets := []struct {
		name string
		list *heapshot.ObjectList
	}{
		{"new", td.New},
		{"new finalizable", td.NewFinalizable},
		{"dead", td.Dead},
	}
	for _, set := range sets {
		records, err := set.list.Records(ctx, opts)
		if err != nil {
			return err
		}
		printf(a.out, "\n%s %s: %s objects, %s\n", mlog.Pointer(raw), set.name, count(set.list.Count()), bytesOf(set.list.TotalSize()))
		if len(records) == 0 {
			continue
		}
		tw := newTable(a.out)
		fmt.Fprintln(tw, "Address\tAlloc ID\tSize\t")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%d\t%s\t\n", rec.Address, int64(rec.AllocID), bytesOf(int64(rec.Size)))
		}
		tw.Flush()
	}
	return nil
}
