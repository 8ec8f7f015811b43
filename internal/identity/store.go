package identity

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"

	"github.com/nahma/sidecar/internal/wire"
)

// Store persists an Identity's encrypted blob at a fixed path, mirroring
// the single-file "${HOME}/.nahma/identity.json" layout in spec §6.
type Store struct {
	path string
}

// NewStore returns a Store rooted at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns "${home}/.nahma/identity.json" for home.
func DefaultPath(home string) string {
	return filepath.Join(home, ".nahma", "identity.json")
}

// Has reports whether an identity blob exists on disk.
func (s *Store) Has() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Create generates a new identity and immediately persists it under
// password, returning the decrypted Identity for in-process use.
func (s *Store) Create(password, handle, color, icon string) (*Identity, error) {
	if s.Has() {
		return nil, wire.Conflict("identity already exists")
	}
	id, err := Create(handle, color, icon, time.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.store(id, password); err != nil {
		return nil, trace.Wrap(err)
	}
	return id, nil
}

// Load reads and decrypts the identity blob from disk.
func (s *Store) Load(password string) (*Identity, error) {
	if !s.Has() {
		return nil, ErrNoIdentity
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var blob Blob
	if err := wire.FastUnmarshal(data, &blob); err != nil {
		return nil, trace.Wrap(err)
	}
	return Import(blob, password, "current-device", "unknown", time.Now())
}

// Store persists id's blob, encrypted under password, overwriting any
// existing file.
func (s *Store) store(id *Identity, password string) error {
	blob, err := Export(id, password)
	if err != nil {
		return trace.Wrap(err)
	}
	data, err := wire.FastMarshal(blob)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(os.WriteFile(s.path, data, 0o600))
}

// Update loads the current identity, applies fields, and re-persists it
// under the same password.
func (s *Store) Update(password string, fields UpdateFields) (*Identity, error) {
	id, err := s.Load(password)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id.Update(fields)
	if err := s.store(id, password); err != nil {
		return nil, trace.Wrap(err)
	}
	return id, nil
}

// Delete removes the identity blob from disk.
func (s *Store) Delete() error {
	if !s.Has() {
		return ErrNoIdentity
	}
	return trace.Wrap(os.Remove(s.path))
}

// Export returns the encrypted export blob for id under password, without
// touching the on-disk store (used for "export to another device" flows).
func (s *Store) Export(id *Identity, password string) (Blob, error) {
	return Export(id, password)
}

// Import decrypts blob under password and persists the resulting identity
// as this store's current identity, attaching a new current-device entry.
func (s *Store) Import(blob Blob, password, deviceID, platform string) (*Identity, error) {
	id, err := Import(blob, password, deviceID, platform, time.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.store(id, password); err != nil {
		return nil, trace.Wrap(err)
	}
	return id, nil
}
