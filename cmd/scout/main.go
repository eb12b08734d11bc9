// Package main is the entry point for the scout CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/scout/internal/config"
	"github.com/flemzord/scout/internal/research"
	"github.com/flemzord/scout/internal/reviewer"
	"github.com/flemzord/scout/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scout",
		Short:         "A research agent that asks before it acts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")
	root.AddCommand(versionCmd(), serveCmd(), runCmd(), configCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scout %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// load reads the configuration named by --config and the params shared by
// every command.
func load(cmd *cobra.Command) (*config.Config, string, app.Params, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, resolved, err := app.LoadConfig(path)
	if err != nil {
		return nil, resolved, app.Params{}, err
	}

	levelFlag, _ := cmd.Flags().GetString("log-level")
	level, err := app.ParseLevel(levelFlag)
	if err != nil {
		return nil, resolved, app.Params{}, fmt.Errorf("--log-level: %w", err)
	}
	return cfg, resolved, app.Params{
		Version:  version,
		Commit:   commit,
		Date:     date,
		LogLevel: level,
	}, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, the schedules and resumed reviews until stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, params, err := load(cmd)
			if err != nil {
				return err
			}
			if review, _ := cmd.Flags().GetBool("review"); review {
				accessible, _ := cmd.Flags().GetBool("accessible")
				params.Prompter = reviewer.NewFormPrompter(reviewer.WithAccessible(accessible))
			}
			return runService(cmd.Context(), path, func(ctx context.Context) error {
				return app.Serve(ctx, cfg, params)
			})
		},
	}
	cmd.Flags().Bool("review", false, "Also answer reviews from this terminal")
	cmd.Flags().Bool("accessible", false, "Use line-oriented review prompts")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one research task, reviewing its actions from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, params, err := load(cmd)
			if err != nil {
				return err
			}
			accessible, _ := cmd.Flags().GetBool("accessible")
			params.Prompter = reviewer.NewFormPrompter(reviewer.WithAccessible(accessible))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			task, err := app.RunOnce(ctx, cfg, params, strings.Join(args, " "))
			if task.ID != "" {
				fmt.Fprintln(cmd.OutOrStdout(), app.Summary(task))
			}
			if err != nil {
				return err
			}
			if task.State != research.StateCompleted {
				return fmt.Errorf("task %s ended %s", task.ID, task.State)
			}
			return nil
		},
	}
	cmd.Flags().Bool("accessible", false, "Use line-oriented review prompts")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				path = args[0]
			}
			cfg, resolved, err := app.LoadConfig(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", resolved)
			fmt.Fprintf(out, "  provider: %s\n", cfg.Provider.Kind)
			store := cfg.Approval.Store.Kind
			if store == "" {
				store = config.StoreMemory
			}
			fmt.Fprintf(out, "  store:    %s\n", store)
			if cfg.Mail.Configured() {
				fmt.Fprintf(out, "  mail:     smtp %s\n", cfg.Mail.Host)
			} else {
				fmt.Fprintln(out, "  mail:     preview only")
			}
			if cfg.Gateway.Enabled() {
				fmt.Fprintf(out, "  gateway:  %s\n", cfg.Gateway.Bind)
			}
			for _, s := range cfg.Schedules {
				fmt.Fprintf(out, "  schedule: %s (%s)\n", s.Name, s.Cron)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, _, err := app.LoadConfig(path)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(config.Redacted(cfg)); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}
