package attachments

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

const maxNameAttempts = 1000

// uploadDir returns the slash separated directory, relative to MediaRoot, that
// a new file of the article is stored in.
func (c *Config) uploadDir(articleID int64) string {
	dir := strings.ReplaceAll(c.UploadPath, "%aid", strconv.FormatInt(articleID, 10))
	if c.Obscurify {
		dir = path.Join(dir, strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return path.Clean(dir)
}

// storeFile writes body below MediaRoot and returns its relative path and size.
// Bodies over MaxFileSize are rejected before anything touches the disk.
func (s *Store) storeFile(articleID int64, filename string, body io.Reader) (string, int64, error) {
	limit := s.cfg.MaxFileSize
	if limit <= 0 {
		limit = DefaultConfig().MaxFileSize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return "", 0, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return "", 0, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, limit)
	}

	dir := s.cfg.uploadDir(articleID)
	if err = os.MkdirAll(s.fullPath(dir), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create upload directory: %w", err)
	}
	rel, err := s.reserveName(dir, filename)
	if err != nil {
		return "", 0, err
	}
	if err = atomic.WriteFile(s.fullPath(rel), bytes.NewReader(data)); err != nil {
		s.removeFile(rel)
		return "", 0, fmt.Errorf("failed to write upload: %w", err)
	}
	return rel, int64(len(data)), nil
}

// reserveName claims a file name in dir that no other revision uses by
// creating it empty. Taken names get a _<n> suffix before the extension.
func (s *Store) reserveName(dir, filename string) (string, error) {
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 0; n < maxNameAttempts; n++ {
		name := filename
		if n > 0 {
			name = stem + "_" + strconv.Itoa(n) + ext
		}
		if s.cfg.AppendExtension != "" {
			name += "." + s.cfg.AppendExtension
		}
		rel := path.Join(dir, name)
		f, err := os.OpenFile(s.fullPath(rel), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create upload: %w", err)
		}
		_ = f.Close()
		return rel, nil
	}
	return "", fmt.Errorf("no free file name for %q in %s", filename, dir)
}

func (s *Store) fullPath(rel string) string {
	return filepath.Join(s.cfg.MediaRoot, filepath.FromSlash(rel))
}

// removeFile deletes a stored file, ignoring files that are already gone.
func (s *Store) removeFile(rel string) {
	if rel == "" {
		return
	}
	if err := os.Remove(s.fullPath(rel)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove attachment file", "file", rel, "error", err)
	}
}
