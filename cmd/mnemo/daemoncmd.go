package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/pkg/config"
	"github.com/mnemo-sh/mnemo/pkg/daemon"
	"github.com/mnemo-sh/mnemo/pkg/memory"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the background extraction daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			pid, err := daemon.Start(cfg.PIDFilePath(), []string{"daemon", "run", "--config", flagConfig})
			if err != nil {
				return err
			}
			fmt.Printf("daemon running (pid %d)\n", pid)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			if err := daemon.Stop(cfg.PIDFilePath()); err != nil {
				return err
			}
			fmt.Println("daemon stopped")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon status and recent log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			st := daemon.GetStatus(cfg.PIDFilePath(), cfg.LogFilePath())
			if st.Running {
				fmt.Printf("daemon running (pid %d)\n", st.PID)
			} else {
				fmt.Println("daemon not running")
			}
			if len(st.LogLines) > 0 {
				fmt.Println("\nRecent log:")
				for _, line := range st.LogLines {
					fmt.Printf("  %s\n", line)
				}
			}
			return nil
		},
	})

	run := &cobra.Command{
		Use:    "run",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
	cmd.AddCommand(run)

	return cmd
}

func runDaemon(parent context.Context, cfg *config.Config) error {
	log, logFile, err := daemon.OpenLogger(cfg.LogFilePath())
	if err != nil {
		return err
	}
	defer logFile.Close()

	store, err := memory.NewSQLiteStore(cfg.DatabasePath(), memory.StoreOptions{
		SessionID: "daemon",
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := daemon.New(daemon.Config{
		PollInterval:     secondsToDuration(cfg.Daemon.PollSeconds),
		StaleAfter:       secondsToDuration(cfg.Daemon.StaleSeconds),
		MaxConcurrent:    cfg.Daemon.MaxConcurrent,
		PIDFile:          cfg.PIDFilePath(),
		LogFile:          cfg.LogFilePath(),
		TranscriptsDir:   cfg.TranscriptsPath(),
		ExtractorCommand: cfg.Daemon.ExtractorCommand,
		DiscoverCron:     cfg.Daemon.DiscoverCron,
	}, store, log, nil)

	return d.Run(ctx)
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
