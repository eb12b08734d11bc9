package agent

import "time"

// Loop limits applied when LoopConfig leaves them unset.
const (
	DefaultMaxIterations = 25
	DefaultCallTimeout   = 2 * time.Minute
	DefaultLoopThreshold = 3
)

// LoopConfig bounds one research task. It is the agent section of
// scout.yaml.
type LoopConfig struct {
	// MaxIterations caps planner turns. Turns suspended on review count
	// once.
	MaxIterations int `yaml:"max_iterations"`

	// TokenBudget caps total planner tokens, including turns run before a
	// checkpoint. Zero is unlimited.
	TokenBudget int `yaml:"token_budget"`

	// CallTimeout bounds each planner call. Waiting for a reviewer is not
	// bounded here.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// LoopThreshold is how many times one call (tool name and arguments)
	// may be proposed before the task is stopped as stuck.
	LoopThreshold int `yaml:"loop_threshold"`

	// MaxDeclines is how many proposals a reviewer may answer with feedback
	// or ignore before the planner is only allowed to give its final
	// answer. Zero is unlimited.
	MaxDeclines int `yaml:"max_declines"`
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.LoopThreshold <= 0 {
		c.LoopThreshold = DefaultLoopThreshold
	}
	return c
}
