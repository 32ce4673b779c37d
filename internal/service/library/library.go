// Package library owns a user's books: the upload pipeline and the list,
// search, edit and delete operations.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/bookshelf/internal/events"
	"github.com/Skotchmaster/bookshelf/internal/logging"
	"github.com/Skotchmaster/bookshelf/internal/models"
	"github.com/Skotchmaster/bookshelf/internal/search"
	"github.com/Skotchmaster/bookshelf/internal/thumbnail"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported file type")
	ErrUploadTooLarge       = errors.New("upload too large")
	ErrThumbnailFailed      = errors.New("thumbnail generation failed")
	ErrUploadFailed         = errors.New("upload failed")
	ErrNotFound             = errors.New("book not found")
	ErrNoFields             = errors.New("no fields to update")
	ErrValidation           = errors.New("invalid book metadata")
	ErrPartialCleanup       = errors.New("book deleted but files were left behind")
	ErrInternal             = errors.New("internal error")
)

const DefaultMaxUploadBytes = 100 << 20

type BookStore interface {
	CreateBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id string, ownerID uint) (*models.Book, error)
	ListBooksByOwner(ctx context.Context, ownerID uint) ([]models.Book, error)
	UpdateBook(ctx context.Context, id string, ownerID uint, fields map[string]any) (*models.Book, error)
	DeleteBook(ctx context.Context, id string, ownerID uint) error
	SearchBooks(ctx context.Context, ownerID uint, q string, offset, limit int) (int64, []models.Book, error)
}

type FileStore interface {
	BookExists(id string, exts ...string) (bool, error)
	WriteBook(id, ext string, r io.Reader) error
	WriteThumbnail(id string, jpeg []byte) error
	RemoveBook(id, ext string) error
	RemoveThumbnail(id string) error
	RemoveAll(id string) []error
}

type LibraryService struct {
	Books     BookStore
	Files     FileStore
	Renderers map[models.FileType]thumbnail.Renderer
	// Index is optional; without it search runs against the database.
	Index          search.Index
	Events         events.Publisher
	MaxUploadBytes int64
	NewID          func() string
}

type MetadataPatch struct {
	Title  *string
	Author *string
}

func (s *LibraryService) maxUploadBytes() int64 {
	if s.MaxUploadBytes > 0 {
		return s.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

func (s *LibraryService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *LibraryService) ListLibrary(ctx context.Context, ownerID uint) ([]models.Book, error) {
	books, err := s.Books.ListBooksByOwner(ctx, ownerID)
	if err != nil {
		logging.FromContext(ctx).Error("library_list_failed", "user_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return books, nil
}

func (s *LibraryService) Get(ctx context.Context, bookID string, ownerID uint) (*models.Book, error) {
	book, err := s.Books.GetBook(ctx, bookID, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return book, nil
}

// Search prefers the search index and falls back to the database when the
// index is missing or failing.
func (s *LibraryService) Search(ctx context.Context, ownerID uint, q string, offset, limit int) (int64, []models.Book, error) {
	l := logging.FromContext(ctx).With("svc", "library.search")

	if s.Index != nil {
		total, books, err := s.Index.Search(ctx, ownerID, q, offset, limit)
		if err == nil {
			return total, books, nil
		}
		l.Warn("search_index_failed", "reason", "falling back to database", "error", err)
	}

	total, books, err := s.Books.SearchBooks(ctx, ownerID, q, offset, limit)
	if err != nil {
		l.Error("search_failed", "error", err)
		return 0, nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return total, books, nil
}

// Delete removes the row first. Once the row is gone the book no longer
// exists for the owner, even if some of its files cannot be removed.
func (s *LibraryService) Delete(ctx context.Context, bookID string, ownerID uint) error {
	l := logging.FromContext(ctx).With("svc", "library.delete", "book_id", bookID, "user_id", ownerID)
	ctx = context.WithoutCancel(ctx)

	if err := s.Books.DeleteBook(ctx, bookID, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		l.Error("delete_failed", "reason", "db error", "error", err)
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}

	errs := s.Files.RemoveAll(bookID)
	for _, err := range errs {
		l.Error("delete_cleanup_failed", "error", err)
	}

	s.unindex(ctx, bookID)
	events.Emit(ctx, s.Events, events.Event{Type: events.BookDeleted, UserID: ownerID, BookID: bookID})

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPartialCleanup, errors.Join(errs...))
	}
	l.Info("delete_ok")
	return nil
}

func (s *LibraryService) EditMetadata(ctx context.Context, bookID string, ownerID uint, patch MetadataPatch) (*models.Book, error) {
	l := logging.FromContext(ctx).With("svc", "library.edit", "book_id", bookID, "user_id", ownerID)

	fields := map[string]any{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be blank", ErrValidation)
		}
		fields["title"] = title
	}
	if patch.Author != nil {
		// a blank author clears the field
		if author := strings.TrimSpace(*patch.Author); author != "" {
			fields["author"] = author
		} else {
			fields["author"] = nil
		}
	}
	if len(fields) == 0 {
		return nil, ErrNoFields
	}

	book, err := s.Books.UpdateBook(ctx, bookID, ownerID, fields)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		l.Error("edit_failed", "reason", "db error", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	s.index(ctx, *book)
	events.Emit(ctx, s.Events, events.Event{Type: events.BookUpdated, UserID: ownerID, BookID: bookID})
	return book, nil
}

func (s *LibraryService) index(ctx context.Context, book models.Book) {
	if s.Index == nil {
		return
	}
	if err := s.Index.IndexBook(context.WithoutCancel(ctx), book); err != nil {
		logging.FromContext(ctx).Warn("search_index_failed", "book_id", book.ID, "error", err)
	}
}

func (s *LibraryService) unindex(ctx context.Context, bookID string) {
	if s.Index == nil {
		return
	}
	if err := s.Index.DeleteBook(context.WithoutCancel(ctx), bookID); err != nil {
		logging.FromContext(ctx).Warn("search_unindex_failed", "book_id", bookID, "error", err)
	}
}
