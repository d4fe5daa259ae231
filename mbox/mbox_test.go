package mbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleMbox = `From alice@example.com Thu Jan  1 00:00:00 2015
From: alice@example.com
To: bob@example.com
Subject: One

Hello

From bob@example.com Thu Jan  1 00:00:01 2015
From: bob@example.com
To: alice@example.com
Subject: Two

World
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "folder.mbox")
	if err := os.WriteFile(path, []byte(sampleMbox), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRead(t *testing.T) {
	path := writeSample(t)

	var raws []string
	err := Read(path, func(raw []byte) error {
		raws = append(raws, string(raw))
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if len(raws) != 2 {
		t.Fatalf("got %d messages, want 2", len(raws))
	}
	if !strings.Contains(raws[0], "Subject: One") {
		t.Errorf("first message missing subject: %q", raws[0])
	}
	if !strings.Contains(raws[1], "Subject: Two") {
		t.Errorf("second message missing subject: %q", raws[1])
	}
}

func TestRead_CallbackErrorStopsWalk(t *testing.T) {
	path := writeSample(t)

	sentinel := errors.New("stop")
	count := 0
	err := Read(path, func(raw []byte) error {
		count++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("Read() error = %v; want sentinel", err)
	}
	if count != 1 {
		t.Errorf("callback ran %d times, want 1", count)
	}
}

func TestRead_MissingFile(t *testing.T) {
	err := Read(filepath.Join(t.TempDir(), "nope.mbox"), func([]byte) error { return nil })
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCountMessages(t *testing.T) {
	path := writeSample(t)

	count, err := CountMessages(path)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountMessages() = %d; want 2", count)
	}
}
