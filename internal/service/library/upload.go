package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Skotchmaster/bookshelf/internal/events"
	"github.com/Skotchmaster/bookshelf/internal/logging"
	"github.com/Skotchmaster/bookshelf/internal/models"
	"github.com/Skotchmaster/bookshelf/internal/thumbnail"
)

const maxIDAttempts = 16

type UploadInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	OwnerID     uint
}

// Upload validates, stores and registers a book. Either the book file, its
// thumbnail and its row all exist afterwards, or none of them do.
func (s *LibraryService) Upload(ctx context.Context, in UploadInput) (*models.Book, error) {
	l := logging.FromContext(ctx).With("svc", "library.upload", "user_id", in.OwnerID)

	if !AcceptsContentType(in.ContentType) {
		l.Warn("upload_rejected", "status", 400, "reason", "content type", "content_type", in.ContentType)
		return nil, ErrUnsupportedMediaType
	}

	data, err := readLimited(in.Reader, s.maxUploadBytes())
	if err != nil {
		l.Warn("upload_rejected", "reason", "cannot read body", "error", err)
		return nil, err
	}

	fileType, err := Sniff(data)
	if err != nil {
		l.Warn("upload_rejected", "status", 400, "reason", "unrecognized content", "content_type", in.ContentType)
		return nil, err
	}
	ext := string(fileType)

	id, err := s.uniqueID()
	if err != nil {
		l.Error("upload_failed", "reason", "cannot allocate id", "error", err)
		return nil, err
	}
	l = l.With("book_id", id)

	thumb, err := s.renderThumbnail(ctx, fileType, data)
	if err != nil {
		l.Error("upload_failed", "reason", "thumbnail", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrThumbnailFailed, err)
	}

	// durable writes must not be abandoned halfway by a client disconnect
	dctx := context.WithoutCancel(ctx)

	var undo []func() error
	fail := func(step string, cause error) (*models.Book, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				l.Error("upload_compensation_failed", "step", step, "error", err)
			}
		}
		l.Error("upload_failed", "reason", step, "error", cause)
		return nil, fmt.Errorf("%w: %s: %w", ErrUploadFailed, step, cause)
	}

	if err := s.Files.WriteBook(id, ext, bytes.NewReader(data)); err != nil {
		// a failed write may still leave a file behind
		undo = append(undo, func() error { return s.Files.RemoveBook(id, ext) })
		return fail("write book", err)
	}
	undo = append(undo, func() error { return s.Files.RemoveBook(id, ext) })

	if thumb != nil {
		if err := s.Files.WriteThumbnail(id, thumb); err != nil {
			undo = append(undo, func() error { return s.Files.RemoveThumbnail(id) })
			return fail("write thumbnail", err)
		}
		undo = append(undo, func() error { return s.Files.RemoveThumbnail(id) })
	}

	book := &models.Book{
		ID:       id,
		Title:    titleFromFilename(in.Filename, id),
		FileType: fileType,
		UserID:   in.OwnerID,
	}
	if err := s.Books.CreateBook(dctx, book); err != nil {
		return fail("create row", err)
	}

	s.index(dctx, *book)
	events.Emit(dctx, s.Events, events.Event{Type: events.BookUploaded, UserID: in.OwnerID, BookID: id})
	l.Info("upload_ok", "file_type", ext, "bytes", len(data), "thumbnail", thumb != nil)
	return book, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrUploadFailed, err)
	}
	if int64(len(data)) > limit {
		return nil, ErrUploadTooLarge
	}
	return data, nil
}

func (s *LibraryService) uniqueID() (string, error) {
	exts := make([]string, len(models.FileTypes))
	for i, ft := range models.FileTypes {
		exts[i] = string(ft)
	}

	for range maxIDAttempts {
		id := s.newID()
		taken, err := s.Files.BookExists(id, exts...)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInternal, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free book id after %d attempts", ErrInternal, maxIDAttempts)
}

// renderThumbnail returns nil bytes when the book has nothing to render.
func (s *LibraryService) renderThumbnail(ctx context.Context, ft models.FileType, data []byte) ([]byte, error) {
	r, ok := s.Renderers[ft]
	if !ok || r == nil {
		return nil, nil
	}
	thumb, err := r.Render(ctx, data)
	if errors.Is(err, thumbnail.ErrNoThumbnail) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return thumb, nil
}

func titleFromFilename(filename, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" || title == "." || title == "/" {
		return fallback
	}
	return title
}
