package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookshelf/internal/logging"
	authmw "github.com/Skotchmaster/bookshelf/internal/middleware/auth"
	"github.com/Skotchmaster/bookshelf/internal/service/library"
	"github.com/Skotchmaster/bookshelf/internal/util"
)

// multipartOverhead covers boundaries and part headers around the file.
const multipartOverhead = 1 << 20

type LibraryHTTP struct {
	Svc            *library.LibraryService
	MaxUploadBytes int64
}

func caller(c echo.Context) (uint, error) {
	id, ok := authmw.UserID(c)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
	}
	return id, nil
}

func (h *LibraryHTTP) Upload(c echo.Context) error {
	owner, err := caller(c)
	if err != nil {
		return err
	}

	if h.MaxUploadBytes > 0 {
		req := c.Request()
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.MaxUploadBytes+multipartOverhead)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer src.Close()

	l := logging.FromContext(c.Request().Context()).With("svc", "http.upload", "user_id", owner, "username", authmw.Username(c))

	book, err := h.Svc.Upload(c.Request().Context(), library.UploadInput{
		Reader:      src,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		OwnerID:     owner,
	})
	if err != nil {
		l.Warn("upload_rejected", "filename", fh.Filename, "error", err)
		switch {
		case errors.Is(err, library.ErrUnsupportedMediaType):
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid file type.")
		case errors.Is(err, library.ErrUploadTooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
		case errors.Is(err, library.ErrThumbnailFailed):
			return echo.NewHTTPError(http.StatusInternalServerError, "Thumbnail creation failed")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "Error uploading file")
		}
	}

	l.Info("upload_accepted", "book_id", book.ID)
	return c.JSON(http.StatusOK, uploadResponse{
		BookData: toBookData(*book),
		Message:  "File uploaded successfully!",
	})
}

// ownLibrary resolves :user_id and rejects callers asking for someone else's books.
func ownLibrary(c echo.Context) (uint, error) {
	owner, err := caller(c)
	if err != nil {
		return 0, err
	}
	requested, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	if uint(requested) != owner {
		return 0, echo.NewHTTPError(http.StatusForbidden, "not your library")
	}
	return owner, nil
}

func (h *LibraryHTTP) Library(c echo.Context) error {
	owner, err := ownLibrary(c)
	if err != nil {
		return err
	}

	books, err := h.Svc.ListLibrary(c.Request().Context(), owner)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load library")
	}
	return c.JSON(http.StatusOK, libraryResponse{Books: toBookList(books)})
}

func (h *LibraryHTTP) Search(c echo.Context) error {
	owner, err := ownLibrary(c)
	if err != nil {
		return err
	}

	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query error")
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	from, size := util.Calculate(page, size)

	total, books, err := h.Svc.Search(c.Request().Context(), owner, q, from, size)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	return c.JSON(http.StatusOK, searchResponse{Total: total, Books: toBookList(books)})
}

func (h *LibraryHTTP) Edit(c echo.Context) error {
	owner, err := caller(c)
	if err != nil {
		return err
	}

	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	_, err = h.Svc.EditMetadata(c.Request().Context(), c.Param("book_id"), owner, library.MetadataPatch{
		Title:  req.Title,
		Author: req.Author,
	})
	if err != nil {
		switch {
		case errors.Is(err, library.ErrNoFields):
			return echo.NewHTTPError(http.StatusBadRequest, "Error: At least one field (title or author) must be provided.")
		case errors.Is(err, library.ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, "title must not be blank")
		case errors.Is(err, library.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "book not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "could not update book")
		}
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Book metadata updated."})
}

func (h *LibraryHTTP) Delete(c echo.Context) error {
	owner, err := caller(c)
	if err != nil {
		return err
	}

	l := logging.FromContext(c.Request().Context()).With("svc", "http.delete", "user_id", owner, "username", authmw.Username(c), "book_id", c.Param("book_id"))

	if err := h.Svc.Delete(c.Request().Context(), c.Param("book_id"), owner); err != nil {
		l.Warn("delete_rejected", "error", err)
		switch {
		case errors.Is(err, library.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "book not found")
		case errors.Is(err, library.ErrPartialCleanup):
			return echo.NewHTTPError(http.StatusInternalServerError, "Book entry removed but some files could not be deleted")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "Error: Book entry could not be removed")
		}
	}
	l.Info("delete_done")
	return c.JSON(http.StatusOK, messageResponse{Message: "Success, book entry and files removed."})
}
