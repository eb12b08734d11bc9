package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceName = "scout"

// program adapts a blocking serve function to the service manager's
// Start/Stop callbacks.
type program struct {
	serve  func(context.Context) error
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- p.serve(ctx) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceConfig(configPath string) *service.Config {
	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return &service.Config{
		Name:        serviceName,
		DisplayName: "Scout research agent",
		Description: "Runs scheduled research and serves the review gateway.",
		Arguments:   args,
	}
}

// runService runs serve in the foreground when started from a terminal and
// under the service manager's control otherwise.
func runService(ctx context.Context, configPath string, serve func(context.Context) error) error {
	if service.Interactive() {
		if ctx == nil {
			ctx = context.Background()
		}
		return serve(ctx)
	}
	s, err := service.New(&program{serve: serve}, serviceConfig(configPath))
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return s.Run()
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage scout serve as an OS service",
	}
	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the scout service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, _ := cmd.Flags().GetString("config")
				if path != "" {
					abs, err := filepath.Abs(path)
					if err != nil {
						return err
					}
					path = abs
				}
				s, err := service.New(&program{}, serviceConfig(path))
				if err != nil {
					return fmt.Errorf("service: %w", err)
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s: ok\n", action)
				return nil
			},
		})
	}
	return cmd
}
