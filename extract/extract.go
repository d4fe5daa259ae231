// Package extract is the filesystem-only pipeline: archives become per-folder
// mbox files, each message becomes an .eml tagged with a CRC32 of its exact
// bytes, and ripmime pulls attachments out next to them. There is no
// deduplication here; repeated runs append new files rather than being
// idempotent, which is the intended asymmetry with the relational pipeline.
package extract

import (
	"context"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/corentin-larose/pst-ingest/mbox"
	"github.com/corentin-larose/pst-ingest/pst"
	"github.com/corentin-larose/pst-ingest/stats"
)

// Decoder converts one archive into mbox files under outDir.
type Decoder interface {
	Decode(ctx context.Context, archive, outDir string) error
}

// AttachmentExtractor pulls the attachments of one exported message file
// into outDir.
type AttachmentExtractor interface {
	RipMIME(ctx context.Context, emlPath, outDir string) error
}

type Extractor struct {
	decoder   Decoder
	ripper    AttachmentExtractor
	collector *stats.Collector
	logger    *slog.Logger
}

func New(decoder Decoder, ripper AttachmentExtractor, logger *slog.Logger) *Extractor {
	return &Extractor{
		decoder:   decoder,
		ripper:    ripper,
		collector: stats.NewCollector(),
		logger:    logger,
	}
}

// Collector exposes the run's accumulated statistics.
func (e *Extractor) Collector() *stats.Collector {
	return e.collector
}

// Run extracts every archive under srcDir into destDir, laid out as
// mbox/<stem>/..., eml/<stem>/<folder>/<index>_<crc>.eml and
// attachments/<stem>/<name>_<crc><ext>.
func (e *Extractor) Run(ctx context.Context, srcDir, destDir string) error {
	mboxRoot := filepath.Join(destDir, "mbox")
	emlRoot := filepath.Join(destDir, "eml")
	attachRoot := filepath.Join(destDir, "attachments")
	for _, dir := range []string{mboxRoot, emlRoot, attachRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	archives, err := pst.DiscoverArchives(srcDir)
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		e.logger.Info("no archives found", "source", srcDir)
		return nil
	}

	for _, archive := range archives {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.processArchive(ctx, archive, mboxRoot, emlRoot, attachRoot); err != nil {
			return err
		}
	}

	summary := e.collector.Snapshot()
	e.logger.Info("extraction complete", summary.LogAttrs()...)
	return nil
}

func (e *Extractor) processArchive(ctx context.Context, archive, mboxRoot, emlRoot, attachRoot string) error {
	stem := archiveStem(archive)
	e.logger.Info("extracting archive", "archive", archive)

	outMbox := filepath.Join(mboxRoot, stem)
	if err := os.MkdirAll(outMbox, 0o755); err != nil {
		return fmt.Errorf("create mbox directory: %w", err)
	}

	if err := e.decoder.Decode(ctx, archive, outMbox); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Error("decoder failed, skipping archive", "archive", archive, "err", err)
		e.collector.Apply(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeError, Archive: archive, Err: err})
		return nil
	}

	containers, err := findMboxFiles(outMbox)
	if err != nil {
		return err
	}

	for _, container := range containers {
		if err := e.processContainer(ctx, container, stem, emlRoot, attachRoot); err != nil {
			return err
		}
	}

	e.logger.Info("archive done", "archive", filepath.Base(archive))
	return nil
}

func (e *Extractor) processContainer(ctx context.Context, container, stem, emlRoot, attachRoot string) error {
	e.logger.Debug("walking container", "container", container)

	folderStem := strings.TrimSuffix(filepath.Base(container), filepath.Ext(container))
	emlDir := filepath.Join(emlRoot, stem, folderStem)
	if err := os.MkdirAll(emlDir, 0o755); err != nil {
		return fmt.Errorf("create eml directory: %w", err)
	}
	attachDir := filepath.Join(attachRoot, stem)
	if err := os.MkdirAll(attachDir, 0o755); err != nil {
		return fmt.Errorf("create attachments directory: %w", err)
	}

	idx := 0
	return mbox.Read(container, func(raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.collector.Apply(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeScanned})

		checksum := fmt.Sprintf("%08X", crc32.ChecksumIEEE(raw))
		emlPath := filepath.Join(emlDir, fmt.Sprintf("%05d_%s.eml", idx, checksum))
		idx++

		if err := os.WriteFile(emlPath, raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", emlPath, err)
		}

		if err := e.extractAttachments(ctx, emlPath, attachDir, checksum); err != nil {
			if ctx.Err() != nil {
				return err
			}
			// Fatal to this message only; the eml file already exists.
			e.logger.Warn("attachment extraction failed", "eml", emlPath, "err", err)
			e.collector.Apply(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeError, Err: err})
			return nil
		}

		e.collector.Apply(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeIngested})
		return nil
	})
}

// extractAttachments runs ripmime into a scratch folder, then renames every
// produced file to embed the message checksum before moving it into the
// archive's attachment folder. The scratch folder is discarded either way.
func (e *Extractor) extractAttachments(ctx context.Context, emlPath, attachDir, checksum string) error {
	tmpDir := filepath.Join(attachDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("create scratch folder: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := e.ripper.RipMIME(ctx, emlPath, tmpDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("read scratch folder: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		nameStem := strings.TrimSuffix(name, ext)
		newName := fmt.Sprintf("%s_%s%s", nameStem, checksum, ext)

		if err := os.Rename(filepath.Join(tmpDir, name), filepath.Join(attachDir, newName)); err != nil {
			return fmt.Errorf("move attachment %s: %w", name, err)
		}
		e.collector.Apply(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeAttachment})
	}

	return nil
}

func findMboxFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".mbox") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func archiveStem(archive string) string {
	base := filepath.Base(archive)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
