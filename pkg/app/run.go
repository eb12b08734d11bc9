package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flemzord/scout/internal/config"
	"github.com/flemzord/scout/internal/research"
	"github.com/flemzord/scout/internal/reviewer"
)

// shutdownTimeout bounds the graceful stop of every component.
const shutdownTimeout = 30 * time.Second

// LoadConfig reads and validates the configuration at path. An empty path
// is resolved with config.FindPath. The resolved path is returned.
func LoadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		resolved, err := config.FindPath()
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Serve runs scout as a long-lived service: it resumes the reviews left
// pending by the previous run, serves the gateway, runs the schedules and
// blocks until ctx ends or a shutdown signal is received.
func Serve(ctx context.Context, cfg *config.Config, params Params) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := Build(ctx, cfg, params)
	if err != nil {
		return err
	}
	logger := d.Logger
	defer func() {
		if err := d.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("releasing resources failed", "error", err)
		}
	}()

	if n, err := d.Manager.Recover(ctx); err != nil {
		logger.Error("recovering pending reviews failed", "error", err)
	} else if n > 0 {
		logger.Info("resumed tasks awaiting review", "tasks", n)
	}

	if d.Gateway != nil {
		if err := d.Gateway.Start(ctx); err != nil {
			_ = d.shutdown(ctx)
			return err
		}
	}
	if err := d.Scheduler.Start(ctx); err != nil {
		_ = d.shutdown(ctx)
		return err
	}

	var wg sync.WaitGroup
	if params.Prompter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reviewer.New(d.Broker, params.Prompter, logger.With("component", "reviewer")).Run(ctx)
		}()
	}

	logger.Info("scout started", "version", params.Version, "schedules", len(cfg.Schedules), "gateway", d.Gateway != nil)
	<-ctx.Done()
	logger.Info("shutdown signal received")

	err = d.shutdown(ctx)
	wg.Wait()
	logger.Info("shutdown complete")
	return err
}

// RunOnce runs a single research task for prompt and returns its final
// state. Reviews are answered from the terminal, and through the gateway
// when one is configured. Interrupting the process cancels the task.
func RunOnce(ctx context.Context, cfg *config.Config, params Params, prompt string) (research.Task, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := Build(ctx, cfg, params)
	if err != nil {
		return research.Task{}, err
	}
	logger := d.Logger
	defer func() {
		if err := d.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("releasing resources failed", "error", err)
		}
	}()

	if d.Gateway != nil {
		if err := d.Gateway.Start(ctx); err != nil {
			return research.Task{}, err
		}
	}

	prompter := params.Prompter
	if prompter == nil {
		prompter = reviewer.NewFormPrompter()
	}
	reviewCtx, stopReview := context.WithCancel(ctx)
	reviewDone := make(chan struct{})
	go func() {
		defer close(reviewDone)
		_ = reviewer.New(d.Broker, prompter, logger.With("component", "reviewer")).Run(reviewCtx)
	}()

	final, runErr := d.runTask(ctx, prompt)

	stopReview()
	<-reviewDone
	if err := d.shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return final, runErr
}

// runTask starts prompt and waits for it, bounded by tasks.run_timeout.
func (d *Deps) runTask(ctx context.Context, prompt string) (research.Task, error) {
	task, err := d.Manager.Start(ctx, prompt)
	if err != nil {
		return research.Task{}, err
	}
	d.Logger.Info("research task started", "task", task.ID)

	waitCtx := ctx
	if timeout := d.Config.Tasks.RunTimeout; timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	final, err := d.Manager.Wait(waitCtx, task.ID)
	if err == nil {
		return final, nil
	}

	// Interrupted or timed out: cancel the task and report how it ended.
	d.Logger.Warn("stopping research task", "task", task.ID, "reason", err)
	if cerr := d.Manager.Cancel(task.ID); cerr != nil && !errors.Is(cerr, research.ErrTaskFinished) {
		return final, errors.Join(err, cerr)
	}
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if settled, werr := d.Manager.Wait(settleCtx, task.ID); werr == nil {
		final = settled
	}
	return final, fmt.Errorf("research task %s: %w", task.ID, err)
}

// shutdown stops the long-running components, newest first.
func (d *Deps) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	if d.Scheduler != nil {
		if err := d.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
		}
	}
	if d.Gateway != nil {
		if err := d.Gateway.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping gateway: %w", err))
		}
	}
	if d.Manager != nil {
		if err := d.Manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping tasks: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Summary renders the outcome of a task for the terminal.
func Summary(t research.Task) string {
	s := fmt.Sprintf("Task %s %s", t.ID, t.State)
	if t.StopReason != "" {
		s += fmt.Sprintf(" (%s, %d iterations, %d tool calls)", t.StopReason, t.Iterations, len(t.ToolCalls))
	}
	if t.Error != "" {
		s += "\nError: " + t.Error
	}
	if t.Content != "" {
		s += "\n\n" + t.Content
	}
	return s
}

// ParseLevel parses a log level flag. An empty value yields nil, meaning
// log.level from the configuration applies.
func ParseLevel(s string) (*slog.Level, error) {
	if s == "" {
		return nil, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return &lvl, nil
}
