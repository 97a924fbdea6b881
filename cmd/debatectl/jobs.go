package main

import (
	"fmt"

	"debate-arena/internal/aiclient"
	"debate-arena/internal/clock"
	"debate-arena/internal/config"
	"debate-arena/internal/connection"
	"debate-arena/internal/debate"
	"debate-arena/internal/logging"
	"debate-arena/internal/rooms"
	"debate-arena/internal/scheduler"
	"debate-arena/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and drive scheduled jobs",
}

var runDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Run every job that is due now, once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		schedCfg, err := config.LoadScheduler()
		if err != nil {
			return err
		}
		connCfg, err := config.LoadConnection()
		if err != nil {
			return err
		}
		debateCfg, err := config.LoadDebate()
		if err != nil {
			return err
		}
		clk := clock.System{}
		sched := scheduler.New(repo, clk, scheduler.OptionsFromConfig(schedCfg), logging.Component("scheduler"))
		// No hub or AI service here: events are dropped and evaluations are
		// logged only.
		coord := debate.NewCoordinator(debate.Deps{
			Repo:      repo,
			Scheduler: sched,
			Clock:     clk,
			Evaluator: aiclient.Noop{Log: logging.Component("ai_client")},
		}, debate.OptionsFromConfig(debateCfg), log.Logger)
		coord.RegisterJobs(sched)
		tracker := connection.NewTracker(connection.TrackerDeps{
			Repo:      repo,
			Scheduler: sched,
			Clock:     clk,
			Grace:     connection.GracePolicyFromConfig(connCfg),
		}, log.Logger)
		tracker.RegisterJobs(sched)
		tracker.AddFinalizeListener(rooms.NewMembership(repo, coord, clk, log.Logger))

		n, err := sched.RunDue(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"ran": n}, ctlCfg.Pretty)
	},
}

var countStatus string

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count jobs in a status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch countStatus {
		case store.JobStatusPending, store.JobStatusRunning, store.JobStatusDone, store.JobStatusFailed:
		default:
			return fmt.Errorf("unknown status %q", countStatus)
		}
		n, err := repo.CountJobs(cmd.Context(), countStatus)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"status": countStatus, "count": n}, ctlCfg.Pretty)
	},
}

func init() {
	countCmd.Flags().StringVar(&countStatus, "status", store.JobStatusPending, "pending, running, done or failed")
	jobsCmd.AddCommand(runDueCmd, countCmd)
	rootCmd.AddCommand(jobsCmd)
}
