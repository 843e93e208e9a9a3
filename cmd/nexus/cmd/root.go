package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nexus/internal/app"
	"nexus/internal/config"
)

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "nexus",
		Short:        "nexus is a self-hosted service dashboard backend.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "config.yaml", "path to configuration file (YAML)")

	cmd.AddCommand(
		serveCmd(),
		checkCmd(),
	)
	return cmd
}

// Run the API server with the periodic health checker.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and run health checks on a fixed interval.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.ListenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx, addr)
		},
	}
	cmd.Flags().String("addr", "", "address for the web server (overrides listen_addr)")
	return cmd
}

// Probe every monitored service once, print the results and exit.
func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a single health check pass and print the result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, services, err := a.CheckOnce(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLAST CHECKED")
			for _, svc := range services {
				if !svc.CheckHealth {
					continue
				}
				checked := "-"
				if svc.LastChecked != nil {
					checked = svc.LastChecked.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", svc.ID, svc.Name, svc.HealthStatus, checked)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d checked, %d skipped (queue full)\n", stats.Processed, stats.Dropped)
			return nil
		},
	}
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
