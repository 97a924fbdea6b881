package main

import (
	"debate-arena/internal/clock"
	"debate-arena/internal/connection"

	"github.com/spf13/cobra"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Print connection analytics as JSON",
}

func newAnalytics() *connection.Analytics {
	return connection.NewAnalytics(repo, clock.System{})
}

var issuesCmd = &cobra.Command{
	Use:   "issues <user_id>",
	Short: "Disconnections and reconnection rate of one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := newAnalytics().AnalyzeConnectionIssues(cmd.Context(), args[0], window())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rep, ctlCfg.Pretty)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <user_id>",
	Short: "Connection sessions rebuilt from the log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := newAnalytics().UserConnectionSessions(cmd.Context(), args[0], window())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sessions, ctlCfg.Pretty)
	},
}

var realtimeCmd = &cobra.Command{
	Use:   "realtime",
	Short: "Current connection counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := newAnalytics().RealtimeConnectionStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stats, ctlCfg.Pretty)
	},
}

var frequentCmd = &cobra.Command{
	Use:   "frequent",
	Short: "Users flagged as frequent disconnectors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		users, err := newAnalytics().FrequentDisconnectionUsers(cmd.Context(), window())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), users, ctlCfg.Pretty)
	},
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Disconnections by hour, client and type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rep, err := newAnalytics().DisconnectionTrends(cmd.Context(), window())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rep, ctlCfg.Pretty)
	},
}

func init() {
	analyticsCmd.AddCommand(issuesCmd, sessionsCmd, realtimeCmd, frequentCmd, trendsCmd)
	rootCmd.AddCommand(analyticsCmd)
}
