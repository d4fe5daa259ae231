// Package pst wraps the external tools this pipeline delegates to: readpst
// for converting PST archives into per-folder mailbox files and ripmime for
// pulling attachments out of individual messages.
package pst

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrToolMissing = errors.New("required external tool not found in PATH")

// Runner executes an external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, detail)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

type Tools struct {
	runner Runner
}

func NewTools() *Tools {
	return &Tools{runner: execRunner{}}
}

// NewToolsWithRunner is used by tests to substitute the command execution.
func NewToolsWithRunner(r Runner) *Tools {
	return &Tools{runner: r}
}

// CheckTools verifies that every named binary is resolvable, before any
// archive is touched.
func CheckTools(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: %s", ErrToolMissing, name)
		}
	}
	return nil
}

// Decode converts one archive into per-folder mbox files under outDir.
func (t *Tools) Decode(ctx context.Context, archive, outDir string) error {
	return t.runner.Run(ctx, "readpst", "-o", outDir, archive)
}

// RipMIME extracts the attachments of one exported message into outDir.
func (t *Tools) RipMIME(ctx context.Context, emlPath, outDir string) error {
	return t.runner.Run(ctx, "ripmime", "-i", emlPath, "-d", outDir, "-q", "--overwrite", "--no-paranoid")
}

// DiscoverArchives finds every .pst file under root, recursively.
func DiscoverArchives(root string) ([]string, error) {
	var archives []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pst") {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			archives = append(archives, abs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return archives, nil
}
