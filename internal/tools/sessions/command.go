package sessions

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/di"
	"github.com/sandeepkv93/reading-diary/internal/tools/common"
)

type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Opener returns a pruner, the configured session store and a release func.
type Opener func() (Pruner, string, func(), error)

func NewRootCommand() *cobra.Command {
	return newRootCommand(openPruner)
}

func newRootCommand(open Opener) *cobra.Command {
	opts := &common.Options{}
	cmd := &cobra.Command{
		Use:          "sessions",
		Short:        "Session store maintenance",
		SilenceUsage: true,
	}
	opts.Bind(cmd)
	cmd.AddCommand(newPruneCommand(opts, open))
	return cmd
}

func newPruneCommand(opts *common.Options, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, "sessions prune", func(ctx context.Context) ([]string, error) {
				pruner, store, release, err := open()
				if err != nil {
					return nil, err
				}
				defer release()

				n, err := pruner.Prune(ctx)
				if err != nil {
					return nil, fmt.Errorf("prune sessions: %w", err)
				}
				details := []string{fmt.Sprintf("removed %d expired session(s)", n)}
				if store == config.SessionStoreRedis {
					details = append(details, "SESSION_STORE=redis: live sessions expire in redis; only the db table was pruned")
				}
				return details, nil
			})
		},
	}
}

func openPruner() (Pruner, string, func(), error) {
	p, err := di.InitializeSessionPruner()
	if err != nil {
		return nil, "", nil, err
	}
	release := func() {
		if sqlDB, err := p.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return p, p.Store, release, nil
}
