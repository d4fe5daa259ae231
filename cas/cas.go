// Package cas is a content-addressed blob store for attachment payloads.
// An object's location is the hex sha256 of its bytes, so identical content
// is stored exactly once no matter how many messages reference it.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

type Store struct {
	root string
}

// New creates the storage root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("attachment storage root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

// Key returns the storage key for the given content without writing it.
func Key(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Store writes content under its content hash and returns the key. If an
// object already exists at that key no write occurs; existing bytes are
// trusted to be identical. Writes go through a temp file plus rename so a
// concurrent writer of the same content cannot leave a torn object behind.
func (s *Store) Store(content []byte) (string, error) {
	key := Key(content)
	path := s.Path(key)

	if _, err := os.Stat(path); err == nil {
		return key, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat blob %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.root, "."+key+".*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close blob %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish blob %s: %w", key, err)
	}

	return key, nil
}

// Path returns the absolute path of the object stored under key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, key)
}
