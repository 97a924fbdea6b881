package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/config"
	"debate-arena/internal/logging"
	"debate-arena/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	ctlCfg      config.CtlConfig
	repo        store.Repository
	windowHours int
)

var rootCmd = &cobra.Command{
	Use:           "debatectl",
	Short:         "Operator tool for the debate arena",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		logCfg, err := config.LoadLog()
		if err != nil {
			return err
		}
		logging.Init(logCfg)
		ctlCfg, err = config.LoadCtl()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		repo, err = store.Open(cmd.Context(), ctlCfg.PostgresDSN, clock.System{})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if repo != nil {
			repo.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&windowHours, "window-hours", 24, "analysis window in hours")
}

func window() time.Duration {
	if windowHours < 1 {
		return time.Hour
	}
	return time.Duration(windowHours) * time.Hour
}

func printJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
