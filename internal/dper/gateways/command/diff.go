package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	diffProgram = "diff"

	errDiffFailed = "diff %s %s exited %d: %s"
)

// Differ compares two files with the external diff program.
type Differ struct {
	runner  Runner
	program string
}

// NewDiffer returns a Differ that runs "diff -u" through runner.
// A nil runner selects the os/exec implementation.
func NewDiffer(runner Runner) *Differ {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Differ{runner: runner, program: diffProgram}
}

// Diff runs "diff -u oldPath newPath" and reports whether the files differ along
// with the unified diff output split into lines.
//
// A missing oldPath is compared as empty, so the first publish shows every line as
// added. Exit status 0 means identical and 1 means different. Anything higher is
// trouble; it still counts as a change when oldPath does not exist.
func (d *Differ) Diff(ctx context.Context, oldPath, newPath string) (bool, []string, error) {
	compareTo := oldPath
	_, statErr := os.Stat(oldPath)
	missing := errors.Is(statErr, fs.ErrNotExist)
	if missing {
		compareTo = os.DevNull
	}

	res, err := d.runner.Run(ctx, d.program, "-u", compareTo, newPath)
	if err != nil {
		return false, nil, err
	}

	switch res.ExitCode {
	case 0:
		// an empty candidate still has to create the missing file
		return missing, nil, nil
	case 1:
		return true, Lines(res.Stdout), nil
	}

	if missing {
		return true, Lines(res.Stdout), nil
	}
	return false, nil, fmt.Errorf(errDiffFailed, oldPath, newPath, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
}

// Lines splits process output into lines without trailing newlines.
// Empty output yields no lines.
func Lines(out []byte) []string {
	out = bytes.TrimRight(out, "\n")
	if len(out) == 0 {
		return nil
	}
	return strings.Split(string(out), "\n")
}
