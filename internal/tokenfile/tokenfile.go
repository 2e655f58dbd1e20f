// Package tokenfile reads and writes the persisted OneDrive credential: the
// refresh token and the access token expiry. Access tokens are never written.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the state directory.
const DirPerms = 0o700

// ErrLocked is returned by Lock when another process holds the state file.
var ErrLocked = errors.New("tokenfile: state file is locked by another process")

// State is the persisted part of a credential. A zero RefreshToken or
// ExpiresAt means the field is absent.
type State struct {
	RefreshToken string
	ExpiresAt    time.Time
}

// file is the on-disk JSON shape. Absent values are written as null.
type file struct {
	RefreshToken *string `json:"refresh_token"`
	ExpiresAt    *int64  `json:"expires_at"`
}

// Load reads the state file at path. Returns (nil, nil) if the file does
// not exist.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	st := &State{}

	if f.RefreshToken != nil {
		st.RefreshToken = *f.RefreshToken
	}

	if f.ExpiresAt != nil {
		st.ExpiresAt = time.Unix(*f.ExpiresAt, 0).UTC()
	}

	return st, nil
}

// Save writes st to path atomically (temp file, fsync, rename) with 0600
// permissions. Never logs token values.
func Save(path string, st State) error {
	var f file

	if st.RefreshToken != "" {
		rt := st.RefreshToken
		f.RefreshToken = &rt
	}

	if !st.ExpiresAt.IsZero() {
		exp := st.ExpiresAt.Unix()
		f.ExpiresAt = &exp
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the state file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}

// Lock takes an exclusive advisory lock on path+".lock" so two processes
// never rotate the same refresh token. Returns ErrLocked if another process
// holds it. The returned function releases the lock.
func Lock(path string) (unlock func() error, err error) {
	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return nil, fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	lk := flock.New(path + ".lock")

	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("tokenfile: locking %s: %w", path, err)
	}

	if !locked {
		return nil, ErrLocked
	}

	return lk.Unlock, nil
}
