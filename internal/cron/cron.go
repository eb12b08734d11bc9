// Package cron runs scheduled research: each configured schedule starts a
// research task from a fixed prompt on a 5-field cron expression.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/scout/internal/research"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a valid 5-field cron expression.
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("cron %q: %w", expr, err)
	}
	return nil
}

// Schedule is one recurring research prompt.
type Schedule struct {
	Name   string
	Cron   string
	Prompt string
}

// Tasks is the subset of research.Manager a schedule drives. Wait returns
// once the task is terminal, which includes any time spent in review.
type Tasks interface {
	Start(ctx context.Context, prompt string) (research.Task, error)
	Wait(ctx context.Context, id string) (research.Task, error)
}

// Status describes a schedule for the status endpoint. Task is the id of
// the task still in flight from an earlier tick, if any.
type Status struct {
	Name    string    `json:"name"`
	Cron    string    `json:"cron"`
	Next    time.Time `json:"next,omitzero"`
	Task    string    `json:"task,omitempty"`
	Skipped int       `json:"skipped,omitempty"`
}
