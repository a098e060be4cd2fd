package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CredentialSet is the opaque persisted pairing material for a session.
// The supervisor never inspects it; it only loads, saves, and discards it.
type CredentialSet []byte

// CredentialStore persists the credential set between session attempts.
//
// Discard is invoked by the supervisor at the fatal-credential remediation
// points; it must be idempotent.
type CredentialStore interface {
	// Load returns the persisted credential set, or (nil, nil) when none exists.
	Load() (CredentialSet, error)
	// Save persists the credential set, replacing any previous one.
	Save(creds CredentialSet) error
	// Discard removes the persisted credential set. Idempotent.
	Discard() error
}

const credFileName = "creds.bin"

// FileCredentialStore keeps the credential set in a directory on disk,
// matching the auth-folder layout the network client expects.
type FileCredentialStore struct {
	dir string
}

// NewFileCredentialStore constructs a store rooted at dir.
func NewFileCredentialStore(dir string) (*FileCredentialStore, error) {
	if dir == "" {
		return nil, errors.New("transport: empty credential dir")
	}
	return &FileCredentialStore{dir: dir}, nil
}

// Load reads the credential set; a missing file is not an error.
func (s *FileCredentialStore) Load() (CredentialSet, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, credFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	return CredentialSet(b), nil
}

// Save writes the credential set with owner-only permissions.
func (s *FileCredentialStore) Save(creds CredentialSet) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, credFileName), creds, 0o600); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Discard removes the whole credential directory. Removing a directory that
// does not exist is not an error.
func (s *FileCredentialStore) Discard() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("discard credentials: %w", err)
	}
	return nil
}
