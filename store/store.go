// Package store is the relational persistence layer: mailbox, identity,
// email, recipient/mailbox links and attachment metadata in MySQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

type Store struct {
	db *sqlx.DB
}

// Open connects and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only reporting queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// EmailRecord is one deduplicated logical message.
type EmailRecord struct {
	Fingerprint      string
	Subject          string
	SenderIdentityID sql.NullInt64
	SentAt           time.Time
	RawBody          []byte
	NormalizedBody   string
	HasAttachments   bool
}

// AttachmentRecord is one attachment occurrence. Metadata rows are never
// deduplicated; only the blob behind StoragePath is.
type AttachmentRecord struct {
	EmailID     int64
	Filename    string
	Size        int64
	StoragePath string
}

// Session wraps a transaction. Commit finishes the current batch and opens
// the next one, so the orchestrator can flush every N messages without
// holding one giant transaction per archive.
type Session struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

func (s *Store) Begin(ctx context.Context) (*Session, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Session{db: s.db, tx: tx}, nil
}

// Commit flushes the current batch and starts a new transaction.
func (se *Session) Commit(ctx context.Context) error {
	if err := se.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	tx, err := se.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin next batch: %w", err)
	}
	se.tx = tx
	return nil
}

// Close rolls back whatever the last Commit did not cover.
func (se *Session) Close() error {
	if err := se.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// GetOrCreateMailbox resolves the mailbox row for a source archive path,
// inserting it on first sight. Idempotent across re-runs.
func (se *Session) GetOrCreateMailbox(ctx context.Context, owner, sourcePath string) (int64, error) {
	var id int64
	err := se.tx.GetContext(ctx, &id, `SELECT id FROM mailbox WHERE pst_filename = ?`, sourcePath)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup mailbox: %w", err)
	}

	res, err := se.tx.ExecContext(ctx,
		`INSERT INTO mailbox (owner_identifier, pst_filename) VALUES (?, ?)`, owner, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("insert mailbox: %w", err)
	}
	return res.LastInsertId()
}

// GetOrCreateIdentity resolves the identity row for a lowercase address.
func (se *Session) GetOrCreateIdentity(ctx context.Context, address string) (int64, error) {
	var id int64
	err := se.tx.GetContext(ctx, &id, `SELECT id FROM identity WHERE email_address = ?`, address)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup identity: %w", err)
	}

	res, err := se.tx.ExecContext(ctx,
		`INSERT INTO identity (email_address) VALUES (?)`, address)
	if err != nil {
		return 0, fmt.Errorf("insert identity: %w", err)
	}
	return res.LastInsertId()
}

// FindEmailByFingerprint reports the existing email id for a fingerprint.
func (se *Session) FindEmailByFingerprint(ctx context.Context, fingerprint string) (int64, bool, error) {
	var id int64
	err := se.tx.GetContext(ctx, &id, `SELECT id FROM email WHERE message_fingerprint = ?`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup email: %w", err)
	}
	return id, true, nil
}

func (se *Session) InsertEmail(ctx context.Context, rec *EmailRecord) (int64, error) {
	res, err := se.tx.ExecContext(ctx, `
		INSERT INTO email (message_fingerprint, subject, sender_identity_id, sent_at, raw_body, normalized_body, has_attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.Subject, rec.SenderIdentityID, rec.SentAt, rec.RawBody, rec.NormalizedBody, rec.HasAttachments)
	if err != nil {
		return 0, fmt.Errorf("insert email: %w", err)
	}
	return res.LastInsertId()
}

// LinkRecipient records an email→identity link; inserting an existing pair
// is a no-op, not an error.
func (se *Session) LinkRecipient(ctx context.Context, emailID, identityID int64) error {
	_, err := se.tx.ExecContext(ctx,
		`INSERT IGNORE INTO email_recipient (email_id, identity_id) VALUES (?, ?)`, emailID, identityID)
	if err != nil {
		return fmt.Errorf("link recipient: %w", err)
	}
	return nil
}

// LinkMailbox records which source archive contained a logical email.
func (se *Session) LinkMailbox(ctx context.Context, emailID, mailboxID int64) error {
	_, err := se.tx.ExecContext(ctx,
		`INSERT IGNORE INTO email_mailbox (email_id, mailbox_id) VALUES (?, ?)`, emailID, mailboxID)
	if err != nil {
		return fmt.Errorf("link mailbox: %w", err)
	}
	return nil
}

func (se *Session) InsertAttachment(ctx context.Context, rec *AttachmentRecord) error {
	_, err := se.tx.ExecContext(ctx,
		`INSERT INTO attachment (email_id, filename, size, storage_path) VALUES (?, ?, ?, ?)`,
		rec.EmailID, rec.Filename, rec.Size, rec.StoragePath)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}
