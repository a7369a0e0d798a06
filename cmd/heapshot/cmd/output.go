package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/heapshot-analysis/pkg/compression"
	"github.com/heapshot-analysis/pkg/filter"
	"github.com/heapshot-analysis/pkg/writer"
)

// outputFlags are shared by the commands that produce a report.
type outputFlags struct {
	json   bool
	output string
	export string
}

// typeFilter narrows reports to application types.
type typeFilter struct {
	appOnly     bool
	appPrefixes []string
}

func addFilterFlags(cmd *cobra.Command, f *typeFilter) {
	cmd.Flags().BoolVar(&f.appOnly, "app-only", false, "Hide runtime, library and primitive types")
	cmd.Flags().StringSliceVar(&f.appPrefixes, "app-prefix", nil, "Namespaces to treat as application code")
}

func (f typeFilter) classifier() *filter.ClassFilter {
	if len(f.appPrefixes) == 0 {
		return filter.DefaultFilter
	}
	c := filter.NewClassFilter()
	c.AddApplicationPrefixes(f.appPrefixes)
	return c
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
}

func bytesOf(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}

// signedBytes always shows the sign so growth columns line up.
func signedBytes(n int64) string {
	if n >= 0 {
		return "+" + humanize.Bytes(uint64(n))
	}
	return bytesOf(n)
}

func count(n int64) string {
	return humanize.Comma(n)
}

// emit writes report as JSON when requested, to a local file when requested,
// and uploads it to the configured storage when an export key is given.
// It returns true when the text rendering should be skipped.
func emit[T any](ctx context.Context, a *app, flags outputFlags, report T) (bool, error) {
	if flags.output != "" {
		if err := writer.NewPrettyJSONWriter[T]().WriteToFile(report, flags.output); err != nil {
			return false, err
		}
		a.log.Info("report written to %s", flags.output)
	}

	if flags.export != "" {
		data, err := writer.NewJSONWriter[T]().
			WithCompression(compression.TypeFromName(flags.export)).
			Encode(report)
		if err != nil {
			return false, err
		}
		store, err := a.newStorage(&a.cfg.Storage)
		if err != nil {
			return false, err
		}
		if err := store.Upload(ctx, flags.export, bytes.NewReader(data)); err != nil {
			return false, err
		}
		a.log.Info("report exported to %s", store.URL(flags.export))
	}

	if flags.json {
		return true, writer.NewPrettyJSONWriter[T]().Write(report, a.out)
	}
	return false, nil
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
