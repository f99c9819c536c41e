// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxStderr bounds how much tool output ends up in an execution message.
const maxStderr = 1024

// command is one invocation of an external dump/restore tool.
type command struct {
	Path   string
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
}

// runner executes a command. Tests substitute a fake.
type runner func(ctx context.Context, cmd command) error

func execRunner(ctx context.Context, c command) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec // binary path comes from configuration
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		name := filepath.Base(c.Path)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			if len(msg) > maxStderr {
				msg = msg[:maxStderr] + "..."
			}
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// dumpToFile runs dump with its output going to a partial file next to
// targetPath, and renames it into place only when dump succeeds.
func dumpToFile(targetPath string, dump func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o750); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	partial := targetPath + ".partial"
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // path built from the save-path template
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}

	dumpErr := dump(f)
	closeErr := f.Close()
	if dumpErr == nil {
		dumpErr = closeErr
	}
	if dumpErr != nil {
		_ = os.Remove(partial)
		return dumpErr
	}

	if err := os.Rename(partial, targetPath); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("finalize backup file: %w", err)
	}
	return nil
}
