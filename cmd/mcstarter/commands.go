package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	starter "github.com/Tangerine2001/minecraft-server-starter"
	"github.com/Tangerine2001/minecraft-server-starter/internal/logger"
)

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
}

// WorldFlags holds the per-world flags of start/stop/status/backup.
type WorldFlags struct {
	World  string
	Memory string
	Port   int
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	worldFlags := &WorldFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(globalFlags, worldFlags),
		createStopCommand(globalFlags, worldFlags),
		createStatusCommand(globalFlags, worldFlags),
		createBackupCommand(globalFlags, worldFlags),
		createServeCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcstarter",
		Short: "Minecraft dedicated-server starter and backup scheduler",
		Long: `mcstarter starts, stops and snapshots Minecraft dedicated servers,
one detached java process per world, with pid tracking on disk.

Examples:
  mcstarter start --world=survival --memory=4G
  mcstarter status --world=survival
  mcstarter stop --world=survival
  mcstarter backup --world=survival
  mcstarter serve --config=mcstarter.toml`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func newStarter(flags *GlobalFlags, captureConsole bool) (*starter.Starter, error) {
	cfg, err := starter.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if !captureConsole {
		// One-shot commands exit right after Start returns. A parent-side
		// capture pipe dies with them, so the child writes to the null
		// device instead. Only the long-lived serve mode keeps capture.
		cfg.ConsoleLog.Dir = ""
	}
	logger.Setup(cfg.LogLevel, cfg.LogColor)
	return starter.New(cfg), nil
}

func addWorldFlag(cmd *cobra.Command, flags *WorldFlags) {
	cmd.Flags().StringVar(&flags.World, "world", "", "world name (required)")
	if err := cmd.MarkFlagRequired("world"); err != nil {
		panic(err)
	}
}

func createStartCommand(g *GlobalFlags, f *WorldFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a world's server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newStarter(g, false)
			if err != nil {
				return err
			}
			res, err := s.Start(cmd.Context(), f.World, f.Memory, f.Port)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), res)
			return nil
		},
	}
	addWorldFlag(cmd, f)
	cmd.Flags().StringVar(&f.Memory, "memory", "", "JVM heap size, e.g. 4G (default from config)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "preferred listen port (default from config)")
	return cmd
}

func createStopCommand(g *GlobalFlags, f *WorldFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a world's server and take a shutdown backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newStarter(g, false)
			if err != nil {
				return err
			}
			res, err := s.Stop(cmd.Context(), f.World)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), res)
			return nil
		},
	}
	addWorldFlag(cmd, f)
	return cmd
}

func createStatusCommand(g *GlobalFlags, f *WorldFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a world's server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newStarter(g, false)
			if err != nil {
				return err
			}
			if f.World != "" {
				printJSON(cmd.OutOrStdout(), s.Status(f.World))
				return nil
			}
			all, err := s.StatusAll()
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), all)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.World, "world", "", "world name (omit for all worlds)")
	return cmd
}

func createBackupCommand(g *GlobalFlags, f *WorldFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a backup of a world now",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newStarter(g, false)
			if err != nil {
				return err
			}
			path, err := s.Backup(cmd.Context(), f.World)
			if err != nil {
				return err
			}
			if path == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nothing to back up: world has no directory")
				return nil
			}
			printJSON(cmd.OutOrStdout(), map[string]string{"world": f.World, "archive_path": path})
			return nil
		},
	}
	addWorldFlag(cmd, f)
	return cmd
}

func createServeCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, metrics endpoint and interval backup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newStarter(g, true)
			if err != nil {
				return err
			}
			cfg := s.Config()
			if err := starter.RegisterMetricsDefault(); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			if cfg.HistoryDSN != "" {
				sink, err := starter.NewHistorySink(cfg.HistoryDSN)
				if err != nil {
					return fmt.Errorf("history sink: %w", err)
				}
				s.SetHistorySinks(sink)
			}
			if err := s.StartBackupLoop(); err != nil {
				return err
			}
			defer s.StopBackupLoop()

			srv, err := s.NewHTTPServer(cfg.Listen, "")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", cfg.Listen)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func printJSON(w io.Writer, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(w, "%v\n", v)
		return
	}
	_, _ = fmt.Fprintln(w, string(b))
}
