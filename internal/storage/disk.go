// Package storage keeps book files and thumbnails on the local disk.
//
// Files are named by book id: {id}.{ext} under BooksDir and {id}.jpg under
// ThumbnailsDir.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const ThumbnailExt = "jpg"

var ErrInvalidID = errors.New("invalid file id")

type Disk struct {
	BooksDir      string
	ThumbnailsDir string
}

func NewDisk(booksDir, thumbnailsDir string) (*Disk, error) {
	for _, dir := range []string{booksDir, thumbnailsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Disk{BooksDir: booksDir, ThumbnailsDir: thumbnailsDir}, nil
}

// checkID rejects anything that could escape the storage directories or act
// as a glob pattern.
func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\*?[]`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (d *Disk) BookPath(id, ext string) string {
	return filepath.Join(d.BooksDir, id+"."+ext)
}

func (d *Disk) ThumbnailPath(id string) string {
	return filepath.Join(d.ThumbnailsDir, id+"."+ThumbnailExt)
}

// BookExists reports whether a book file with id and any of exts is present.
func (d *Disk) BookExists(id string, exts ...string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	for _, ext := range exts {
		_, err := os.Stat(d.BookPath(id, ext))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

func (d *Disk) WriteBook(id, ext string, r io.Reader) error {
	if err := checkID(id); err != nil {
		return err
	}
	return writeAtomic(d.BooksDir, d.BookPath(id, ext), r)
}

func (d *Disk) WriteThumbnail(id string, jpeg []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	return writeAtomic(d.ThumbnailsDir, d.ThumbnailPath(id), bytes.NewReader(jpeg))
}

func (d *Disk) RemoveBook(id, ext string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return removeIfExists(d.BookPath(id, ext))
}

func (d *Disk) RemoveThumbnail(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return removeIfExists(d.ThumbnailPath(id))
}

// RemoveAll deletes every {id}.* file in both directories and returns the
// failures; it keeps going after an error.
func (d *Disk) RemoveAll(id string) []error {
	if err := checkID(id); err != nil {
		return []error{err}
	}

	var errs []error
	for _, dir := range []string{d.BooksDir, d.ThumbnailsDir} {
		matches, err := filepath.Glob(filepath.Join(dir, id+".*"))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, path := range matches {
			if err := removeIfExists(path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

func writeAtomic(dir, path string, r io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
