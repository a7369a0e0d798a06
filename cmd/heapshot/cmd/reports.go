package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/heapshot-analysis/internal/repository"
	"github.com/heapshot-analysis/pkg/config"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/model"
)

type dbReports struct {
	*repository.GormReportRepository
	repos *repository.Repositories
}

func (d dbReports) Close() error { return d.repos.Close() }

func openReportDB(ctx context.Context, cfg *config.DatabaseConfig) (reportStore, error) {
	repos, err := repository.Open(ctx, &repository.DBConfig{
		Type:     cfg.Type,
		Path:     cfg.Path,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to open report database", err)
	}
	return dbReports{GormReportRepository: repos.Reports, repos: repos}, nil
}

func (a *app) saveReport(ctx context.Context, report *model.DiffReport) error {
	reports, err := a.openReports(ctx, &a.cfg.Database)
	if err != nil {
		return err
	}
	defer reports.Close()

	id, err := reports.Save(ctx, report)
	if err != nil {
		return err
	}
	report.ID = id
	a.log.Info("saved diff report %d", id)
	return nil
}

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse saved diff reports",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withReports(cmd.Context(), func(ctx context.Context, r reportStore) error {
				reports, err := r.List(ctx, limit)
				if err != nil {
					return err
				}
				tw := newTable(a.out)
				fmt.Fprintln(tw, "ID\tCreated\tOld\tNew\tNet\t")
				for _, rep := range reports {
					fmt.Fprintf(tw, "%d\t%s\t%s#%d\t%s#%d\t%s\t\n",
						rep.ID, rep.CreatedAt.Format("2006-01-02 15:04:05"),
						rep.OldSource, rep.OldHeapshot, rep.NewSource, rep.NewHeapshot,
						signedBytes(rep.Totals.Growth()))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Reports to list")

	var top int
	var out outputFlags
	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a saved report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReportID(args[0])
			if err != nil {
				return err
			}
			return a.withReports(cmd.Context(), func(ctx context.Context, r reportStore) error {
				report, err := r.Get(ctx, id)
				if err != nil {
					return err
				}
				done, err := emit(ctx, a, out, report)
				if err != nil || done {
					return err
				}
				printDiff(a, report, top)
				return nil
			})
		},
	}
	show.Flags().IntVarP(&top, "top", "n", 20, "Types to show, by growth (0 for all)")
	addOutputFlags(show, &out)

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a saved report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReportID(args[0])
			if err != nil {
				return err
			}
			return a.withReports(cmd.Context(), func(ctx context.Context, r reportStore) error {
				if err := r.Delete(ctx, id); err != nil {
					return err
				}
				printf(a.out, "deleted report %d\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func (a *app) withReports(ctx context.Context, fn func(context.Context, reportStore) error) error {
	r, err := a.openReports(ctx, &a.cfg.Database)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(ctx, r)
}

func parseReportID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "invalid report id %q", s)
	}
	return id, nil
}
