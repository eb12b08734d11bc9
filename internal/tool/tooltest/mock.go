// Package tooltest provides test helpers and mocks for the tool package.
package tooltest

import (
	"context"
	"sync"

	"github.com/flemzord/scout/internal/tool"
)

// Recorder is a tool.Func that records every call and returns a
// configurable result.
type Recorder struct {
	// Result is returned when ResultFunc is nil.
	Result string

	// Err is returned when ResultFunc is nil.
	Err error

	// ResultFunc, if set, computes the result from the arguments.
	ResultFunc func(ctx context.Context, args tool.Args) (string, error)

	mu    sync.Mutex
	calls []tool.Args
}

// Func returns the recorder as a tool.Func.
func (r *Recorder) Func() tool.Func {
	return func(ctx context.Context, args tool.Args) (string, error) {
		r.mu.Lock()
		r.calls = append(r.calls, args.Clone())
		r.mu.Unlock()

		if r.ResultFunc != nil {
			return r.ResultFunc(ctx, args)
		}
		return r.Result, r.Err
	}
}

// Calls returns a copy of the recorded argument sets in call order.
func (r *Recorder) Calls() []tool.Args {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tool.Args(nil), r.calls...)
}

// CallCount returns how many times the implementation ran.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// SimpleTool creates a definition named name with one required string
// parameter "input" backed by rec.
func SimpleTool(name string, rec *Recorder) *tool.Definition {
	return tool.MustDefinition(name, "simple test tool: "+name, []tool.Param{
		{Name: "input", Type: tool.TypeString, Description: "free-form input", Required: true},
	}, rec.Func())
}
