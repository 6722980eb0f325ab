package blobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const stagedPrefix = ".staged-"

// ErrInvalidName is returned for blob names that are empty or would escape the store directory.
var ErrInvalidName = errors.New("invalid blob name")

// FileStore keeps one file per blob in a single directory.
type FileStore struct {
	dir string
	log zerolog.Logger
}

func NewFileStore(dir string, log zerolog.Logger) *FileStore {
	return &FileStore{
		dir: filepath.Clean(dir),
		log: log.With().Str("component", "blob-store").Logger(),
	}
}

// Dir returns the directory holding the blobs.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the location of the named blob. The name is not validated.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// EnsureDir creates the store directory, including parents, when it does not exist yet.
func (s *FileStore) EnsureDir() error {
	info, err := os.Stat(s.dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("blob store path %s is not a directory", s.dir)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat blob store directory: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create blob store directory: %w", err)
	}
	s.log.Info().Str("dir", s.dir).Msg("created blob store directory")
	return nil
}

// Stage writes data to a temporary file in the store directory. Nothing is
// visible under a blob name until Commit is called on the result.
func (s *FileStore) Stage(data []byte) (*StagedBlob, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(s.dir, stagedPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file: %w", err)
	}
	staged := &StagedBlob{store: s, path: file.Name()}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = staged.Discard()
		return nil, fmt.Errorf("failed to write staged file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = staged.Discard()
		return nil, fmt.Errorf("failed to sync staged file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = staged.Discard()
		return nil, fmt.Errorf("failed to close staged file: %w", err)
	}

	s.log.Debug().Str("staged", staged.path).Int("bytes", len(data)).Msg("staged blob")
	return staged, nil
}

// Read returns the content of the named blob. A missing blob yields an error
// matching fs.ErrNotExist.
func (s *FileStore) Read(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	return data, nil
}

// Rename moves a committed blob to a new name, replacing any blob already there.
func (s *FileStore) Rename(oldName, newName string) error {
	if err := validateName(oldName); err != nil {
		return err
	}
	if err := validateName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if err := os.Rename(s.Path(oldName), s.Path(newName)); err != nil {
		return fmt.Errorf("failed to rename blob %s to %s: %w", oldName, newName, err)
	}
	return nil
}

// Remove deletes the named blob. Removing a missing blob is not an error.
func (s *FileStore) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove blob %s: %w", name, err)
	}
	return nil
}

// CleanupStaged removes staged files left behind by an interrupted write and
// returns how many were removed.
func (s *FileStore) CleanupStaged() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list blob store directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stagedPrefix) {
			continue
		}
		if err := os.Remove(s.Path(entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove staged file %s: %w", entry.Name(), err)
		}
		removed++
	}
	if removed > 0 {
		s.log.Warn().Int("count", removed).Msg("removed leftover staged blobs")
	}
	return removed, nil
}

// Health checks that the store directory is writable.
func (s *FileStore) Health() error {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	testFile := filepath.Join(s.dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("blob store directory not writable: %w", err)
	}
	_ = os.Remove(testFile)
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, stagedPrefix) {
		return fmt.Errorf("%w: %q uses the staging prefix", ErrInvalidName, name)
	}
	return nil
}

// StagedBlob is data written to the store directory but not yet visible under its final name.
type StagedBlob struct {
	store *FileStore
	path  string
	done  bool
}

// Commit atomically moves the staged data to the named blob, replacing any existing one.
func (b *StagedBlob) Commit(name string) error {
	if b.done {
		return errors.New("staged blob already committed or discarded")
	}
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Rename(b.path, b.store.Path(name)); err != nil {
		return fmt.Errorf("failed to commit blob %s: %w", name, err)
	}
	b.done = true
	return nil
}

// Discard removes the staged data. It is a no-op after Commit.
func (b *StagedBlob) Discard() error {
	if b.done {
		return nil
	}
	b.done = true
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to discard staged blob: %w", err)
	}
	return nil
}
