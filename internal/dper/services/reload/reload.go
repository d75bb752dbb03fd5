// Package reload asks the DNS server to pick up a newly published configuration.
package reload

import (
	"context"
	"fmt"

	"github.com/google/shlex"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/gateways/command"
)

// Options configures a Trigger.
type Options struct {
	// Command is split shell-style into program and arguments. Empty disables reloads.
	Command string
	Runner  command.Runner
	Logger  logpkg.Logger
}

// Trigger runs the configured reconfigure command.
type Trigger struct {
	command string
	runner  command.Runner
	logger  logpkg.Logger
}

// New returns a Trigger. A nil Runner selects the os/exec implementation.
func New(opts Options) *Trigger {
	if opts.Runner == nil {
		opts.Runner = command.NewExecRunner()
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNoopLogger()
	}
	return &Trigger{command: opts.Command, runner: opts.Runner, logger: opts.Logger}
}

// Enabled reports whether a reconfigure command is configured.
func (t *Trigger) Enabled() bool {
	return t.command != ""
}

// Reload runs the command and logs its output line by line, at info when it
// succeeds and at warn when it exits non-zero. A returned error describes a command
// that could not be parsed, launched, or that failed; the caller decides whether
// that is fatal.
func (t *Trigger) Reload(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}

	args, err := shlex.Split(t.command)
	if err != nil {
		t.logger.Error(map[string]any{"command": t.command, "error": err.Error()}, "cannot parse reconfigure command")
		return fmt.Errorf("parse reconfigure command: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	t.logger.Info(map[string]any{"command": t.command}, "reconfiguring")
	res, err := t.runner.Run(ctx, args[0], args[1:]...)
	if err != nil {
		t.logger.Error(map[string]any{"command": t.command, "error": err.Error()}, "reconfigure command could not run")
		return err
	}

	for _, line := range command.Lines(res.Stdout) {
		if res.ExitCode == 0 {
			t.logger.Info(map[string]any{"line": line}, "reconfigure")
		} else {
			t.logger.Warn(map[string]any{"line": line}, "reconfigure")
		}
	}
	for _, line := range command.Lines(res.Stderr) {
		t.logger.Warn(map[string]any{"line": line}, "reconfigure stderr")
	}

	if res.ExitCode != 0 {
		t.logger.Error(map[string]any{"command": t.command, "exit_code": res.ExitCode}, "reconfigure failed")
		return fmt.Errorf("reconfigure command exited %d", res.ExitCode)
	}
	return nil
}
