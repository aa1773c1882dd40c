package toolchain

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner records commands instead of executing them. Handler, when set, is called for every
// command and may create output files or return an error.
type FakeRunner struct {
	mu      sync.Mutex
	Calls   []Command
	Handler func(cmd Command) error
	// Outputs maps a tool name to the stdout returned by Output.
	Outputs map[string][]byte
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, cmd Command) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	h := f.Handler
	f.mu.Unlock()
	if h != nil {
		return h(cmd)
	}
	return nil
}

// Output implements Runner.
func (f *FakeRunner) Output(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := Command{Name: name, Args: args, Dir: dir}
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	h := f.Handler
	out := f.Outputs[cmd.Tool()]
	f.mu.Unlock()
	if h != nil {
		if err := h(cmd); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Commands returns a snapshot of recorded calls.
func (f *FakeRunner) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.Calls...)
}

// CallsTo returns the recorded calls whose tool name or arguments contain needle.
func (f *FakeRunner) CallsTo(needle string) []Command {
	var out []Command
	for _, c := range f.Commands() {
		if c.Tool() == needle || strings.Contains(strings.Join(c.Args, " "), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Reset drops recorded calls.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	f.Calls = nil
	f.mu.Unlock()
}
