package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/heapshot-analysis/internal/heapshot"
	"github.com/heapshot-analysis/internal/parser/mlog"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/model"
)

type traceOptions struct {
	input    string
	shot     int
	address  string
	maxDepth int
	out      outputFlags
}

func newTraceCmd(a *app) *cobra.Command {
	o := &traceOptions{}
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the shortest reference chain from a root to an object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("max-depth") {
				o.maxDepth = a.cfg.Heapshot.TraceDepth
			}
			return a.runTrace(cmd.Context(), o)
		},
	}

	cmd.Flags().StringVarP(&o.input, "input", "i", "", "Capture file or storage key (required)")
	cmd.Flags().IntVar(&o.shot, "heapshot", 0, "Heapshot id (0 for the last)")
	cmd.Flags().StringVarP(&o.address, "address", "a", "", "Object address, e.g. 0x7f3a10c8 (required)")
	cmd.Flags().IntVar(&o.maxDepth, "max-depth", 0, "Longest chain to look for (default from config, <=0 unbounded)")
	addOutputFlags(cmd, &o.out)
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("address")
	return cmd
}

func (a *app) runTrace(ctx context.Context, o *traceOptions) error {
	addr, err := strconv.ParseUint(o.address, 0, 64)
	if err != nil {
		return apperrors.Newf(apperrors.CodeInvalidInput, "invalid address %q", o.address)
	}

	c, err := a.load(ctx, o.input, loadOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	h, err := c.heapshot(o.shot)
	if err != nil {
		return err
	}

	path, err := h.TraceToRoot(ctx, mlog.ObjectID(addr), o.maxDepth)
	if err != nil {
		return err
	}

	report := rootPathReport(h, path)
	done, err := emit(ctx, a, o.out, report)
	if err != nil || done {
		return err
	}

	printf(a.out, "%s: %s is %d references from a root\n", h.Name(), mlog.ObjectID(addr), report.Depth)
	tw := newTable(a.out)
	fmt.Fprintln(tw, "Depth\tAddress\tOffset\tSize\tRoot\tType\t")
	for i, step := range report.Steps {
		offset := "-"
		if i > 0 {
			offset = fmt.Sprintf("+%d", step.Offset)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			i, mlog.ObjectID(step.Address), offset, bytesOf(int64(step.Size)), step.RootKind, step.TypeName)
	}
	return tw.Flush()
}

func rootPathReport(h *heapshot.Heapshot, path *heapshot.RootPath) *model.RootPathReport {
	report := &model.RootPathReport{
		Heapshot: h.ID(),
		Target:   uint64(path.Target().Address),
		Depth:    path.Depth(),
	}
	for _, step := range path.Steps {
		ps := model.PathStep{
			Address:  uint64(step.Object.Address),
			AllocID:  int64(step.Object.AllocID),
			TypeName: h.TypeName(step.Object.TypeID),
			Size:     step.Object.Size,
			Offset:   step.Offset,
		}
		if step.Object.RootKind != heapshot.RootNone {
			ps.RootKind = step.Object.RootKind.String()
		}
		report.Steps = append(report.Steps, ps)
	}
	return report
}
