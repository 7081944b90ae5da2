package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/reading-diary/internal/di"
	"github.com/sandeepkv93/reading-diary/internal/tools/common"
)

// Runner is the slice of di.MigrationRunner the commands need.
type Runner interface {
	Pending(ctx context.Context) ([]string, error)
	Run(ctx context.Context) error
}

// Opener builds a runner plus a func releasing its connection.
type Opener func() (Runner, func(), error)

func NewRootCommand() *cobra.Command {
	return newRootCommand(openRunner)
}

func newRootCommand(open Opener) *cobra.Command {
	opts := &common.Options{}
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Database migration tooling",
		SilenceUsage: true,
	}
	opts.Bind(cmd)
	cmd.AddCommand(
		newUpCommand(opts, open),
		newStatusCommand(opts, open),
		newPlanCommand(opts, open),
	)
	return cmd
}

func newUpCommand(opts *common.Options, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, "migrate up", func(ctx context.Context) ([]string, error) {
				return withRunner(open, func(r Runner) ([]string, error) {
					pending, err := r.Pending(ctx)
					if err != nil {
						return nil, err
					}
					if err := r.Run(ctx); err != nil {
						return nil, err
					}
					if len(pending) == 0 {
						return []string{"schema already up to date"}, nil
					}
					return []string{"created tables: " + strings.Join(pending, ", ")}, nil
				})
			})
		},
	}
}

func newStatusCommand(opts *common.Options, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report tables that still need migrating",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, "migrate status", func(ctx context.Context) ([]string, error) {
				return withRunner(open, func(r Runner) ([]string, error) {
					pending, err := r.Pending(ctx)
					if err != nil {
						return nil, err
					}
					if len(pending) == 0 {
						return []string{"database reachable", "migrations: up to date"}, nil
					}
					return []string{"database reachable", fmt.Sprintf("migrations: %d table(s) pending", len(pending))}, nil
				})
			})
		},
	}
}

func newPlanCommand(opts *common.Options, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show migration plan (dry-run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, "migrate plan", func(ctx context.Context) ([]string, error) {
				return withRunner(open, func(r Runner) ([]string, error) {
					pending, err := r.Pending(ctx)
					if err != nil {
						return nil, err
					}
					details := make([]string, 0, len(pending)+1)
					for _, table := range pending {
						details = append(details, "would create table "+table)
					}
					details = append(details, "AutoMigrate also adds missing columns and indexes", "no mutation executed in plan mode")
					return details, nil
				})
			})
		},
	}
}

func withRunner(open Opener, fn func(Runner) ([]string, error)) ([]string, error) {
	r, release, err := open()
	if err != nil {
		return nil, err
	}
	defer release()
	return fn(r)
}

func openRunner() (Runner, func(), error) {
	runner, err := di.InitializeMigrationRunner()
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if sqlDB, err := runner.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return runner, release, nil
}
