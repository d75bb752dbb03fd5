// Package publish replaces the live configuration file, but only when the newly
// rendered text differs from it.
package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
)

const (
	tempPattern = "conf.*.tmp"
	publishMode = 0o444
)

// Differ compares the live file with a candidate.
type Differ interface {
	Diff(ctx context.Context, oldPath, newPath string) (changed bool, lines []string, err error)
}

// Options configures a Publisher.
type Options struct {
	Path   string
	Differ Differ
	Logger logpkg.Logger

	// DiffOutput, when set, receives the unified diff of every change.
	DiffOutput io.Writer
}

// Publisher writes rendered configuration to Path.
type Publisher struct {
	path       string
	differ     Differ
	logger     logpkg.Logger
	diffOutput io.Writer
}

// New returns a Publisher.
func New(opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNoopLogger()
	}
	return &Publisher{
		path:       opts.Path,
		differ:     opts.Differ,
		logger:     opts.Logger,
		diffOutput: opts.DiffOutput,
	}
}

// Path is the live file this Publisher replaces.
func (p *Publisher) Path() string {
	return p.path
}

// Publish stages text in a read-only temporary file next to the live file and diffs
// the two. An unchanged candidate is discarded unless force is set; otherwise it is
// renamed over the live file, so readers see either the old or the new file whole.
// It reports whether the live file was replaced.
func (p *Publisher) Publish(ctx context.Context, text string, force bool) (changed bool, err error) {
	tmpPath, err := p.stage(text)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil && tmpPath != "" {
			err = multierr.Append(err, removeStaged(tmpPath))
		}
	}()

	p.logger.Debug(map[string]any{"live": p.path, "candidate": tmpPath}, "running diff")
	differs, lines, err := p.differ.Diff(ctx, p.path, tmpPath)
	if err != nil {
		return false, &domain.PublishError{Op: "diff", Path: p.path, Err: err}
	}

	if !differs && !force {
		rmErr := removeStaged(tmpPath)
		tmpPath = ""
		if rmErr != nil {
			return false, rmErr
		}
		p.logger.Info(map[string]any{"path": p.path}, "no change")
		return false, nil
	}

	for _, line := range lines {
		p.logger.Info(map[string]any{"line": line}, "diff")
	}
	if p.diffOutput != nil && len(lines) > 0 {
		for _, line := range lines {
			if _, err := fmt.Fprintln(p.diffOutput, line); err != nil {
				return false, &domain.PublishError{Op: "diff output", Path: p.path, Err: err}
			}
		}
	}

	if err := os.Rename(tmpPath, p.path); err != nil {
		return false, &domain.PublishError{Op: "rename", Path: p.path, Err: err}
	}
	p.logger.Info(map[string]any{"path": p.path, "forced": force && !differs}, "wrote output")
	return true, nil
}

// stage writes text to a new temporary file in the live file's directory and makes
// it read-only. The file is removed again if any step fails.
func (p *Publisher) stage(text string) (_ string, err error) {
	f, err := os.CreateTemp(filepath.Dir(p.path), tempPattern)
	if err != nil {
		return "", &domain.PublishError{Op: "create", Path: p.path, Err: err}
	}
	path := f.Name()
	defer func() {
		if err != nil {
			err = multierr.Append(err, removeStaged(path))
		}
	}()

	if _, err := io.WriteString(f, text); err != nil {
		_ = f.Close()
		return "", &domain.PublishError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &domain.PublishError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(path, publishMode); err != nil {
		return "", &domain.PublishError{Op: "chmod", Path: path, Err: err}
	}
	return path, nil
}

func removeStaged(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &domain.PublishError{Op: "remove", Path: path, Err: err}
	}
	return nil
}
