// Package cmd implements the heapshot command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/heapshot-analysis/internal/repository"
	"github.com/heapshot-analysis/internal/storage"
	"github.com/heapshot-analysis/pkg/config"
	"github.com/heapshot-analysis/pkg/telemetry"
	"github.com/heapshot-analysis/pkg/utils"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	configPath string
	verbose    bool

	cfg      *config.Config
	log      utils.Logger
	out      io.Writer
	timer    *utils.Timer
	shutdown telemetry.ShutdownFunc

	newStorage  func(*config.StorageConfig) (storage.Storage, error)
	openReports func(ctx context.Context, cfg *config.DatabaseConfig) (reportStore, error)
}

// reportStore is a report repository that owns its connection.
type reportStore interface {
	repository.ReportRepository
	io.Closer
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{
		newStorage:  storage.NewStorage,
		openReports: openReportDB,
	})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "heapshot",
		Short: "Inspect and compare heap snapshots from Mono log profiler captures",
		Long: `heapshot decodes the binary event stream written by the Mono log profiler,
indexes every heap walk it contains and compares heap walks by allocation
identity, so objects that survived a compacting collection are not reported
as both dead and new.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: ./heapshot.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	bin := BinName()
	root.Example = `  # List the heapshots in a capture
  ` + bin + ` analyze -i app.mlpd

  # Follow a capture that is still being written
  ` + bin + ` analyze -i app.mlpd --live --for 5m

  # Compare the last two heapshots and keep the result
  ` + bin + ` diff -i app.mlpd --save

  # Find what keeps an object alive
  ` + bin + ` trace -i app.mlpd --heapshot 2 --address 0x7f3a10c8`

	root.AddCommand(
		newAnalyzeCmd(a),
		newDiffCmd(a),
		newTraceCmd(a),
		newReportsCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context, out, errOut io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	a.cfg = cfg
	a.out = out

	level := utils.ParseLogLevel(cfg.Log.Level)
	if a.verbose {
		level = utils.LevelDebug
	}
	if cfg.Log.OutputPath != "" {
		fl, err := utils.NewFileLogger(level, cfg.Log.OutputPath)
		if err != nil {
			return err
		}
		a.log = fl
	} else {
		a.log = utils.NewDefaultLogger(level, errOut)
	}
	a.timer = utils.NewTimer("heapshot", utils.WithLogger(a.log), utils.WithEnabled(a.verbose))

	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		a.log.Warn("telemetry disabled: %v", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	a.timer.PrintSummary()
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(context.WithoutCancel(ctx))
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
