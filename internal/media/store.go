// package media stores downloaded and rendered track media and renders videos with ffmpeg.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/desertthunder/trackline/internal/shared"
)

// Kind is the media category a file belongs to; each kind has its own directory.
type Kind string

const (
	KindAudio Kind = "audio"
	KindImage Kind = "images"
	KindVideo Kind = "videos"
)

// Store keeps media files under a root. Paths handed out are relative to that root.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore wraps fs. Files cannot be handed to external programs; see [NewLocalStore].
func NewStore(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewLocalStore stores media on disk under root.
func NewLocalStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: media root %q: %v", shared.ErrInvalidConfig, root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), abs), root: abs}, nil
}

// Path returns the relative path of a track's media file of kind.
func (s *Store) Path(kind Kind, trackID int64, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(string(kind), strconv.FormatInt(trackID, 10)+ext)
}

// Save writes r to the track's media path of kind, replacing any previous file.
func (s *Store) Save(kind Kind, trackID int64, ext string, r io.Reader) (string, error) {
	dest := s.Path(kind, trackID, ext)
	if err := s.Write(dest, r); err != nil {
		return "", err
	}
	return dest, nil
}

// Write stores r at p. The content goes to a temporary file first so readers never see a partial file.
func (s *Store) Write(p string, r io.Reader) error {
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	tmp := p + ".part"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", p, err)
	}
	return nil
}

// Prepare creates the directory of the track's media path of kind and returns the path.
// Used for files written by external programs.
func (s *Store) Prepare(kind Kind, trackID int64, ext string) (string, error) {
	dest := s.Path(kind, trackID, ext)
	if err := s.fs.MkdirAll(path.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}
	return dest, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(p string) (afero.File, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return f, nil
}

// Exists reports whether p is a stored file.
func (s *Store) Exists(p string) bool {
	ok, err := afero.Exists(s.fs, p)
	return err == nil && ok
}

// Remove deletes p. A missing file is not an error.
func (s *Store) Remove(p string) error {
	if p == "" {
		return nil
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// RemoveAll removes every path, continuing past failures.
func (s *Store) RemoveAll(paths []string) error {
	var errs []error
	for _, p := range paths {
		errs = append(errs, s.Remove(p))
	}
	return errors.Join(errs...)
}

// LocalPath resolves a stored path to a file system path usable by external programs.
func (s *Store) LocalPath(p string) (string, error) {
	if s.root == "" {
		return "", fmt.Errorf("%w: media store is not backed by the local disk", shared.ErrNotImplemented)
	}
	return filepath.Join(s.root, filepath.FromSlash(p)), nil
}
