// Package scratch holds uploaded files on disk for the duration of a request.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrTooLarge is returned by Save when the upload exceeds the store limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

const (
	filePrefix   = "upload-"
	maxExtLength = 8
)

// Store writes uploads into a single directory.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore prepares dir, defaulting to a fraudshield directory under the
// system temp dir. maxBytes <= 0 disables the size check.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "fraudshield-uploads")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Store) Dir() string { return s.dir }

// File is one saved upload.
type File struct {
	Path string
	Size int64
}

// Remove deletes the file. Removing twice is not an error.
func (f *File) Remove() error {
	if f == nil || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Save copies r into a new file. The extension of the client filename is
// kept so decoders can fall back to it; the rest of the name is discarded.
func (s *Store) Save(r io.Reader, filename string) (*File, error) {
	f, err := os.CreateTemp(s.dir, filePrefix+"*"+sanitizeExt(filename))
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	out := &File{Path: f.Name()}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = out.Remove()
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		_ = out.Remove()
		return nil, ErrTooLarge
	}
	out.Size = n
	return out, nil
}

// Sweep removes uploads older than maxAge left behind by crashed requests.
// It returns the number of files removed.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.WithFields(log.Fields{"dir": s.dir, "removed": removed}).Info("scratch: swept stale uploads")
	}
	return removed, errors.Join(errs...)
}

func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > maxExtLength+1 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
