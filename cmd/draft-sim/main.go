// Command draft-sim drives concurrent drafts against a running draftd and
// verifies the final rosters.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/draftd/internal/simulate"
	"github.com/okian/draftd/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := simulate.Config{}
	var (
		deadline  = simulate.DefaultDeadline
		logFormat string
	)

	root := &cobra.Command{
		Use:           "draft-sim",
		Short:         "Simulate auction drafts against a draftd server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if cfg.Verbose {
				level = "debug"
			}
			if err := logger.Init(
				logger.WithWriter(cmd.ErrOrStderr()),
				logger.WithFormat(logFormat),
				logger.WithLevel(level),
			); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()

			runner, err := simulate.NewRunner(cfg, logger.Named("draft-sim"))
			if err != nil {
				return err
			}
			stats, err := runner.Run(ctx)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(),
				"sessions: %d started, %d completed, %d failed; bids %d, skips %d, rejections %d in %s\n",
				stats.SessionsStarted, stats.SessionsCompleted, stats.SessionsFailed,
				stats.Bids, stats.Skips, stats.Rejections, stats.Duration)
			return err
		},
	}

	f := root.Flags()
	f.StringVar(&cfg.BaseURL, "url", simulate.DefaultBaseURL, "base URL of the draftd server")
	f.IntVar(&cfg.Sessions, "sessions", simulate.DefaultSessions, "concurrent sessions")
	f.IntVar(&cfg.Captains, "captains", simulate.DefaultCaptains, "captains per session")
	f.IntVar(&cfg.RosterSize, "roster", simulate.DefaultRosterSize, "players per roster")
	f.IntVar(&cfg.Budget, "budget", simulate.DefaultBudget, "starting budget per captain")
	f.Float64Var(&cfg.SkipRate, "skip-rate", simulate.DefaultSkipRate, "chance a captain skips instead of bidding")
	f.DurationVar(&cfg.Timeout, "timeout", simulate.DefaultTimeout, "HTTP request timeout")
	f.DurationVar(&deadline, "deadline", simulate.DefaultDeadline, "overall run deadline")
	f.Int64Var(&cfg.Seed, "seed", 0, "random seed (0 picks one)")
	f.BoolVar(&cfg.Verbose, "verbose", false, "log every session")
	f.StringVar(&logFormat, "log-format", logger.FormatText, "log format: text or json")
	return root
}
