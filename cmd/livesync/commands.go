package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/livesync"
	"github.com/loykin/livesync/internal/logger"
	"github.com/loykin/livesync/internal/server"
	"github.com/loykin/livesync/pkg/client"
)

// newRunCmd runs the sync pipeline in the foreground until interrupted.
func newRunCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync pipeline and the local debug API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := livesync.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.LoggerConfig())
			if err := livesync.RegisterMetrics(nil); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			core, err := livesync.New(cfg, log)
			if err != nil {
				return err
			}
			if err := core.Run(context.Background()); err != nil {
				return err
			}
			srv, err := server.NewServer(cfg.Server.Addr, cfg.Server.BasePath, core.Store(), core.Connection(), core.Registry(), core.Notifier())
			if err != nil {
				return err
			}
			log.Info("livesync running", "stream", cfg.Stream.URL, "debug_addr", cfg.Server.Addr)

			// Surface notifications on the log until shutdown.
			go func() {
				for n := range core.Notifications() {
					log.Info("notification", "severity", n.Severity, "category", n.Category, "message", n.Message)
				}
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return core.Close()
		},
	}
}

// newStatusCmd prints the current system status from the backend API.
func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := livesync.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			api := client.New(client.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout})
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			status, err := api.SystemStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

// newExecCmd runs a single agent and prints the resulting task record.
func newExecCmd(gf *GlobalFlags) *cobra.Command {
	var params string
	cmd := &cobra.Command{
		Use:   "exec <agent-id>",
		Short: "Execute an agent and wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := livesync.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if params != "" {
				if !json.Valid([]byte(params)) {
					return fmt.Errorf("--params must be valid JSON")
				}
				raw = json.RawMessage(params)
			}
			api := client.New(client.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout})
			result, err := api.Execute(cmd.Context(), args[0], raw)
			if err != nil {
				return err
			}
			return printJSON(result.ToTaskRecord(args[0]))
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "agent parameters as a JSON object")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
