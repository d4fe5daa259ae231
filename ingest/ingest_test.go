package ingest

import (
	"context"
	"database/sql/driver"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corentin-larose/pst-ingest/cas"
	"github.com/corentin-larose/pst-ingest/config"
	"github.com/corentin-larose/pst-ingest/store"
)

const msgAlpha = `From: alice@example.com
To: bob@example.com
Subject: Quarterly numbers

The numbers are attached.
`

const msgBeta = `From: carol@example.com
To: dave@example.com, bob@example.com
Subject: Lunch

Noon works for me.
`

const msgWithAttachment = `From: alice@example.com
To: bob@example.com
Subject: Payload
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="bb"

--bb
Content-Type: text/plain

see attached
--bb
Content-Type: application/octet-stream
Content-Disposition: attachment; filename="a.bin"
Content-Transfer-Encoding: base64

aGVsbG8=
--bb--
`

const msgSameAttachment = `From: alice@example.com
To: carol@example.com
Subject: Payload again
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="bb"

--bb
Content-Type: text/plain

same bytes attached
--bb
Content-Type: application/octet-stream
Content-Disposition: attachment; filename="a.bin"
Content-Transfer-Encoding: base64

aGVsbG8=
--bb--
`

func asMbox(bodies ...string) string {
	var out string
	for _, b := range bodies {
		out += "From - Thu Jan  1 00:00:00 2015\n" + b + "\n"
	}
	return out
}

type fakeDecoder struct {
	// keyed by archive basename so each archive can emit different folders
	containers map[string]map[string]string
	err        error
	calls      int
}

func (d *fakeDecoder) Decode(ctx context.Context, archive, outDir string) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	for name, content := range d.containers[filepath.Base(archive)] {
		if err := os.WriteFile(filepath.Join(outDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type link struct{ a, b int64 }

type fakeSession struct {
	nextID     int64
	mailboxes  map[string]int64
	identities map[string]int64
	emails     map[string]int64
	records    map[int64]*store.EmailRecord
	recipients map[link]bool
	boxes      map[link]bool
	atts       []*store.AttachmentRecord
	commits    int

	insertEmailErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		mailboxes:  map[string]int64{},
		identities: map[string]int64{},
		emails:     map[string]int64{},
		records:    map[int64]*store.EmailRecord{},
		recipients: map[link]bool{},
		boxes:      map[link]bool{},
	}
}

func (s *fakeSession) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeSession) GetOrCreateMailbox(ctx context.Context, owner, sourcePath string) (int64, error) {
	if id, ok := s.mailboxes[sourcePath]; ok {
		return id, nil
	}
	id := s.id()
	s.mailboxes[sourcePath] = id
	return id, nil
}

func (s *fakeSession) GetOrCreateIdentity(ctx context.Context, address string) (int64, error) {
	if id, ok := s.identities[address]; ok {
		return id, nil
	}
	id := s.id()
	s.identities[address] = id
	return id, nil
}

func (s *fakeSession) FindEmailByFingerprint(ctx context.Context, fp string) (int64, bool, error) {
	id, ok := s.emails[fp]
	return id, ok, nil
}

func (s *fakeSession) InsertEmail(ctx context.Context, rec *store.EmailRecord) (int64, error) {
	if s.insertEmailErr != nil {
		return 0, s.insertEmailErr
	}
	id := s.id()
	s.emails[rec.Fingerprint] = id
	s.records[id] = rec
	return id, nil
}

func (s *fakeSession) LinkRecipient(ctx context.Context, emailID, identityID int64) error {
	s.recipients[link{emailID, identityID}] = true
	return nil
}

func (s *fakeSession) LinkMailbox(ctx context.Context, emailID, mailboxID int64) error {
	s.boxes[link{emailID, mailboxID}] = true
	return nil
}

func (s *fakeSession) InsertAttachment(ctx context.Context, rec *store.AttachmentRecord) error {
	s.atts = append(s.atts, rec)
	return nil
}

func (s *fakeSession) Commit(ctx context.Context) error {
	s.commits++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSetup(t *testing.T, archives ...string) (config.Ingest, *cas.Store) {
	t.Helper()

	srcDir := t.TempDir()
	for _, name := range archives {
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, name), []byte("pst"), 0o644))
	}

	blobs, err := cas.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.Ingest{
		SourceDir:  srcDir,
		ScratchDir: filepath.Join(t.TempDir(), "scratch"),
		BatchSize:  50,
		LogLevel:   "error",
	}
	return cfg, blobs
}

func TestRun_DeduplicatesAcrossArchives(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst", "backup.pst")
	session := newFakeSession()

	// The same message appears in both archives; beta only in the first.
	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst":  {"Inbox.mbox": asMbox(msgAlpha, msgBeta)},
		"backup.pst": {"Inbox.mbox": asMbox(msgAlpha)},
	}}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	assert.Len(t, session.records, 2, "the duplicate must not produce a third email row")
	assert.Len(t, session.mailboxes, 2)

	// The shared message must be linked to both mailboxes.
	var alphaID int64
	for id, rec := range session.records {
		if rec.Subject == "Quarterly numbers" {
			alphaID = id
		}
	}
	require.NotZero(t, alphaID)
	linked := 0
	for l := range session.boxes {
		if l.a == alphaID {
			linked++
		}
	}
	assert.Equal(t, 2, linked)
}

func TestRun_RerunAddsNothing(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst")
	session := newFakeSession()
	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst": {"Inbox.mbox": asMbox(msgAlpha, msgBeta)},
	}}

	for i := 0; i < 2; i++ {
		orch, err := New(cfg, session, blobs, decoder, testLogger())
		require.NoError(t, err)
		require.NoError(t, orch.Run(context.Background()))
	}

	assert.Len(t, session.records, 2, "a re-run over the same source must be a no-op for email rows")
	assert.Len(t, session.mailboxes, 1)
}

func TestRun_IdenticalAttachmentsShareOneBlob(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst")
	session := newFakeSession()

	// Two distinct messages carrying byte-identical attachments.
	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst": {"Inbox.mbox": asMbox(msgWithAttachment, msgSameAttachment)},
	}}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	require.Len(t, session.atts, 2, "each message keeps its own attachment row")
	assert.Equal(t, session.atts[0].StoragePath, session.atts[1].StoragePath,
		"identical content must resolve to the same stored object")

	stored, err := os.ReadFile(session.atts[0].StoragePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), stored)
}

func TestRun_MessageLevelErrorContinues(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst")
	session := newFakeSession()
	session.insertEmailErr = &mysql.MySQLError{Number: 1406, Message: "data too long"}

	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst": {"Inbox.mbox": asMbox(msgAlpha, msgBeta)},
	}}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()), "a constraint violation loses only the message")

	assert.Empty(t, session.records)
	summary := orch.Collector().Snapshot()
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 2, summary.Errors)
}

func TestRun_ConnectivityLossAborts(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst")
	session := newFakeSession()
	session.insertEmailErr = driver.ErrBadConn

	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst": {"Inbox.mbox": asMbox(msgAlpha)},
	}}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, orch.Run(context.Background()), driver.ErrBadConn)
}

func TestRun_DecoderFailureSkipsArchive(t *testing.T) {
	cfg, blobs := testSetup(t, "broken.pst")
	session := newFakeSession()
	decoder := &fakeDecoder{err: os.ErrPermission}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	assert.Empty(t, session.records)
	assert.Equal(t, 1, orch.Collector().Snapshot().Errors)
}

func TestRun_ScratchDirRemoved(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst")
	session := newFakeSession()
	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst": {"Inbox.mbox": asMbox(msgAlpha)},
	}}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	_, statErr := os.Stat(cfg.ScratchDir)
	assert.True(t, os.IsNotExist(statErr), "scratch directory must be removed after the run")
}

func TestRun_FilterSkipsMatchingMessages(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst")
	cfg.ExcludeHeader = []string{"Subject: Lunch"}
	session := newFakeSession()
	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst": {"Inbox.mbox": asMbox(msgAlpha, msgBeta)},
	}}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	assert.Len(t, session.records, 1)
	summary := orch.Collector().Snapshot()
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Ingested)
}

func TestRun_BatchCommits(t *testing.T) {
	cfg, blobs := testSetup(t, "alice.pst")
	cfg.BatchSize = 1
	session := newFakeSession()
	decoder := &fakeDecoder{containers: map[string]map[string]string{
		"alice.pst": {"Inbox.mbox": asMbox(msgAlpha, msgBeta)},
	}}

	orch, err := New(cfg, session, blobs, decoder, testLogger())
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	// One commit after the mailbox row, one per message, one final flush.
	assert.GreaterOrEqual(t, session.commits, 4)
}
