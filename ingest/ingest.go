// Package ingest walks PST archives through the decoder, normalizer and
// fingerprint engine into the relational store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/corentin-larose/pst-ingest/config"
	"github.com/corentin-larose/pst-ingest/filter"
	"github.com/corentin-larose/pst-ingest/fingerprint"
	"github.com/corentin-larose/pst-ingest/mbox"
	"github.com/corentin-larose/pst-ingest/model"
	"github.com/corentin-larose/pst-ingest/normalize"
	"github.com/corentin-larose/pst-ingest/progress"
	"github.com/corentin-larose/pst-ingest/pst"
	"github.com/corentin-larose/pst-ingest/state"
	"github.com/corentin-larose/pst-ingest/stats"
	"github.com/corentin-larose/pst-ingest/store"
)

// Decoder converts one archive into mailbox container files under outDir.
type Decoder interface {
	Decode(ctx context.Context, archive, outDir string) error
}

// Session is the transactional surface of the relational store.
type Session interface {
	GetOrCreateMailbox(ctx context.Context, owner, sourcePath string) (int64, error)
	GetOrCreateIdentity(ctx context.Context, address string) (int64, error)
	FindEmailByFingerprint(ctx context.Context, fingerprint string) (int64, bool, error)
	InsertEmail(ctx context.Context, rec *store.EmailRecord) (int64, error)
	LinkRecipient(ctx context.Context, emailID, identityID int64) error
	LinkMailbox(ctx context.Context, emailID, mailboxID int64) error
	InsertAttachment(ctx context.Context, rec *store.AttachmentRecord) error
	Commit(ctx context.Context) error
}

// BlobStore persists attachment payloads under content-derived keys.
type BlobStore interface {
	Store(content []byte) (string, error)
	Path(key string) string
}

type Orchestrator struct {
	cfg        config.Ingest
	decoder    Decoder
	session    Session
	blobs      BlobStore
	filter     *filter.Filter
	cache      *state.Cache
	collector  *stats.Collector
	normalizer *normalize.Normalizer
	logger     *slog.Logger

	pending int
}

func New(cfg config.Ingest, session Session, blobs BlobStore, decoder Decoder, logger *slog.Logger) (*Orchestrator, error) {
	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}

	return &Orchestrator{
		cfg:        cfg,
		decoder:    decoder,
		session:    session,
		blobs:      blobs,
		filter:     f,
		cache:      state.NewCache(),
		collector:  stats.NewCollector(),
		normalizer: normalize.New(),
		logger:     logger,
	}, nil
}

// Collector exposes the run's accumulated statistics.
func (o *Orchestrator) Collector() *stats.Collector {
	return o.collector
}

// Run processes every archive under the configured source directory. The
// scratch directory is recreated fresh before any work and removed on every
// exit path so an interrupted run cannot contaminate the next one.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := os.RemoveAll(o.cfg.ScratchDir); err != nil {
		return fmt.Errorf("clear scratch directory: %w", err)
	}
	if err := os.MkdirAll(o.cfg.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(o.cfg.ScratchDir); err != nil {
			o.logger.Warn("failed to remove scratch directory", "dir", o.cfg.ScratchDir, "err", err)
		}
	}()

	archives, err := pst.DiscoverArchives(o.cfg.SourceDir)
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		o.logger.Info("no archives found", "source", o.cfg.SourceDir)
		return nil
	}

	for _, archive := range archives {
		if err := o.processArchive(ctx, archive); err != nil {
			return err
		}
	}

	summary := o.collector.Snapshot()
	o.logger.Info("run complete", summary.LogAttrs()...)
	return nil
}

func (o *Orchestrator) processArchive(ctx context.Context, archive string) error {
	stem := archiveStem(archive)
	o.logger.Info("processing archive", "archive", archive)

	mailboxID, err := o.session.GetOrCreateMailbox(ctx, stem, archive)
	if err != nil {
		return fmt.Errorf("mailbox for %s: %w", archive, err)
	}
	if err := o.flush(ctx); err != nil {
		return err
	}

	outDir := filepath.Join(o.cfg.ScratchDir, stem)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create archive scratch: %w", err)
	}

	if err := o.decoder.Decode(ctx, archive, outDir); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Best effort: walk whatever the decoder managed to emit.
		o.logger.Warn("decoder failed", "archive", archive, "err", err)
		o.collector.Apply(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeError, Archive: archive, Err: err})
	}

	containers, err := listContainers(outDir)
	if err != nil {
		return err
	}

	total := 0
	for _, c := range containers {
		if n, err := mbox.CountMessages(c); err == nil {
			total += n
		}
	}

	bar := progress.New(total, "Ingesting "+filepath.Base(archive), o.cfg.LogLevel)
	defer bar.Stop()

	ingested := 0
	for _, container := range containers {
		err := mbox.Read(container, func(raw []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			evt := stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeScanned, Archive: archive}
			o.collector.Apply(evt)
			bar.Update(evt)

			outcome, err := o.processMessage(ctx, raw, mailboxID)
			if err != nil {
				return err
			}
			if outcome == OutcomeIngested {
				ingested++
			}

			o.pending++
			if o.pending >= o.cfg.BatchSize {
				if err := o.flush(ctx); err != nil {
					return fatalError{err}
				}
			}
			return nil
		})
		if err != nil {
			if fatal := ctx.Err(); fatal != nil {
				return fatal
			}
			var fe fatalError
			if errors.As(err, &fe) {
				return fe.err
			}
			if store.IsFatal(err) {
				return err
			}
			// A container that cannot be opened or walked loses only itself.
			o.logger.Warn("container walk failed", "container", container, "err", err)
			o.collector.Apply(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeError, Archive: archive, Err: err})
		}
	}

	if err := o.flush(ctx); err != nil {
		return err
	}

	o.logger.Info("archive finished", "archive", filepath.Base(archive), "ingested", ingested)
	return nil
}

func (o *Orchestrator) processMessage(ctx context.Context, raw []byte, mailboxID int64) (Outcome, error) {
	if !o.filter.Allows(raw) {
		o.collector.Apply(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeSkipped})
		return OutcomeSkipped, nil
	}

	msg := o.normalizer.Parse(raw)
	fp := fingerprint.Compute(msg.Sender, msg.Recipients, msg.Subject, msg.NormalizedBody)

	outcome := OutcomeDuplicate
	emailID, cached := o.cache.Lookup(fp)
	if !cached {
		id, found, err := o.session.FindEmailByFingerprint(ctx, fp)
		if err != nil {
			return o.messageFailure(err)
		}
		if found {
			emailID = id
		} else {
			emailID, err = o.insertEmail(ctx, msg, fp)
			if err != nil {
				return o.messageFailure(err)
			}
			outcome = OutcomeIngested
		}
	}

	if err := o.session.LinkMailbox(ctx, emailID, mailboxID); err != nil {
		return o.messageFailure(err)
	}

	o.cache.Remember(fp, emailID)
	o.collector.Apply(stats.Event{Stage: stats.StageStore, Type: eventType(outcome)})
	return outcome, nil
}

func (o *Orchestrator) insertEmail(ctx context.Context, msg *model.Message, fp string) (int64, error) {
	rec := &store.EmailRecord{
		Fingerprint:    fp,
		Subject:        msg.Subject,
		SentAt:         msg.SentAt,
		RawBody:        msg.RawBody,
		NormalizedBody: msg.NormalizedBody,
		HasAttachments: msg.HasAttachments,
	}

	if msg.Sender != "" {
		senderID, err := o.session.GetOrCreateIdentity(ctx, msg.Sender)
		if err != nil {
			return 0, err
		}
		rec.SenderIdentityID.Int64 = senderID
		rec.SenderIdentityID.Valid = true
	}

	emailID, err := o.session.InsertEmail(ctx, rec)
	if err != nil {
		return 0, err
	}

	for _, addr := range msg.Recipients {
		identityID, err := o.session.GetOrCreateIdentity(ctx, addr)
		if err != nil {
			return 0, err
		}
		if err := o.session.LinkRecipient(ctx, emailID, identityID); err != nil {
			return 0, err
		}
	}

	for _, part := range msg.Attachments {
		key, err := o.blobs.Store(part.Content)
		if err != nil {
			return 0, fmt.Errorf("store attachment %q: %w", part.Filename, err)
		}
		att := &store.AttachmentRecord{
			EmailID:     emailID,
			Filename:    part.Filename,
			Size:        int64(len(part.Content)),
			StoragePath: o.blobs.Path(key),
		}
		if err := o.session.InsertAttachment(ctx, att); err != nil {
			return 0, err
		}
		o.collector.Apply(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeAttachment})
	}

	return emailID, nil
}

// messageFailure classifies a per-message error: lost connectivity aborts
// the run, anything else is logged and contributes zero records.
func (o *Orchestrator) messageFailure(err error) (Outcome, error) {
	if store.IsFatal(err) {
		return OutcomeFailed, err
	}
	o.logger.Warn("message failed", "err", err)
	o.collector.Apply(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Err: err})
	return OutcomeFailed, nil
}

func (o *Orchestrator) flush(ctx context.Context) error {
	o.pending = 0
	if err := o.session.Commit(ctx); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	return nil
}

// fatalError marks an error that must abort the run even though it was
// raised inside a container walk, such as a failed batch commit.
type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

func eventType(outcome Outcome) stats.EventType {
	switch outcome {
	case OutcomeIngested:
		return stats.EventTypeIngested
	case OutcomeDuplicate:
		return stats.EventTypeDuplicate
	case OutcomeSkipped:
		return stats.EventTypeSkipped
	default:
		return stats.EventTypeError
	}
}

// listContainers collects the decoder's output files, skipping dotfiles and
// empty files.
func listContainers(dir string) ([]string, error) {
	var containers []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		containers = append(containers, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk scratch %s: %w", dir, err)
	}
	return containers, nil
}

func archiveStem(archive string) string {
	base := filepath.Base(archive)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
