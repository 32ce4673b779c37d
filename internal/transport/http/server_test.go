package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	authmw "github.com/Skotchmaster/bookshelf/internal/middleware/auth"
	loggingmw "github.com/Skotchmaster/bookshelf/internal/middleware/logging"
	"github.com/Skotchmaster/bookshelf/internal/models"
	"github.com/Skotchmaster/bookshelf/internal/repo"
	"github.com/Skotchmaster/bookshelf/internal/service/auth"
	"github.com/Skotchmaster/bookshelf/internal/service/library"
	"github.com/Skotchmaster/bookshelf/internal/service/token"
	"github.com/Skotchmaster/bookshelf/internal/storage"
	"github.com/Skotchmaster/bookshelf/internal/testkit"
	"github.com/Skotchmaster/bookshelf/internal/thumbnail"
)

var fakeJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0}

type staticRenderer struct {
	out []byte
	err error
}

func (r staticRenderer) Render(context.Context, []byte) ([]byte, error) { return r.out, r.err }

type testEnv struct {
	t       *testing.T
	e       *echo.Echo
	repo    *repo.GormRepo
	disk    *storage.Disk
	library *library.LibraryService
}

func newTestEnv(t *testing.T, rateLimit float64) *testEnv {
	t.Helper()
	gdb := testkit.NewDB(t)
	r := &repo.GormRepo{DB: gdb}

	root := t.TempDir()
	disk, err := storage.NewDisk(filepath.Join(root, "books"), filepath.Join(root, "thumbnails"))
	require.NoError(t, err)

	tokens := &token.TokenService{
		Store:      r,
		Secret:     []byte("test-secret"),
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	lib := &library.LibraryService{
		Books: r,
		Files: disk,
		Renderers: map[models.FileType]thumbnail.Renderer{
			models.FileTypePDF:  staticRenderer{out: fakeJPEG},
			models.FileTypeEPUB: staticRenderer{err: thumbnail.ErrNoThumbnail},
		},
		MaxUploadBytes: 1 << 20,
	}

	e := echo.New()
	e.Validator = NewValidator()
	Register(e, &Deps{
		DB:            gdb,
		Auth:          &AuthHTTP{Svc: &auth.AuthService{Users: r, Tokens: tokens}},
		Library:       &LibraryHTTP{Svc: lib, MaxUploadBytes: lib.MaxUploadBytes},
		Bearer:        authmw.NewBearerMiddleware(tokens),
		BooksDir:      disk.BooksDir,
		ThumbnailsDir: disk.ThumbnailsDir,
		AuthRateLimit: rateLimit,
	})
	return &testEnv{t: t, e: e, repo: r, disk: disk, library: lib}
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doJSON(method, path string, body any, access string) *httptest.ResponseRecorder {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if access != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+access)
	}
	return env.do(req)
}

func (env *testEnv) upload(access, filename, contentType string, body []byte) *httptest.ResponseRecorder {
	env.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(env.t, err)
	_, err = part.Write(body)
	require.NoError(env.t, err)
	require.NoError(env.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	if access != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+access)
	}
	return env.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// registerAndLogin returns the user's id, access token and refresh token.
func (env *testEnv) registerAndLogin(username, password string) (uint, string, string) {
	env.t.Helper()
	rec := env.doJSON(http.MethodPost, "/register", map[string]string{"username": username, "password": password}, "")
	require.Equal(env.t, http.StatusOK, rec.Code, rec.Body.String())

	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec = env.do(req)
	require.Equal(env.t, http.StatusOK, rec.Code, rec.Body.String())

	tok := decode[tokenResponse](env.t, rec)
	require.Equal(env.t, "bearer", tok.TokenType)

	user, err := env.repo.GetUserByUsername(context.Background(), username)
	require.NoError(env.t, err)
	return user.ID, tok.AccessToken, tok.RefreshToken
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.doJSON(http.MethodPost, "/register", map[string]string{"username": "alice", "password": "pw123"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "User created successfully", decode[messageResponse](t, rec).Message)

	rec = env.doJSON(http.MethodPost, "/api/v1/register", map[string]string{"username": "alice", "password": "x"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(http.MethodPost, "/register", map[string]string{"username": "bob"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(http.MethodPost, "/login", map[string]string{"username": "alice", "password": "wrong"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(http.MethodPost, "/login", map[string]string{"username": "alice", "password": "pw123"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[tokenResponse](t, rec)

	rec = env.doJSON(http.MethodPost, "/refresh", map[string]string{"refresh_token": first.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[tokenResponse](t, rec)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	rec = env.doJSON(http.MethodPost, "/refresh", map[string]string{"refresh_token": first.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.doJSON(http.MethodPost, "/refresh", map[string]string{"refresh_token": second.AccessToken}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	for i := 0; i < 2; i++ {
		rec = env.doJSON(http.MethodPost, "/logout", map[string]string{"refresh_token": second.RefreshToken}, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = env.doJSON(http.MethodPost, "/logout", map[string]string{"refresh_token": "garbage"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(http.MethodPost, "/refresh", map[string]string{"refresh_token": second.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLibraryFlow(t *testing.T) {
	env := newTestEnv(t, 0)
	aliceID, access, _ := env.registerAndLogin("alice", "pw123")
	bobID, bobAccess, _ := env.registerAndLogin("bob", "pw")

	rec := env.upload("", "a.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.upload(access, "The Go Programming Language.pdf", "application/pdf", []byte("%PDF-1.4 body"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[uploadResponse](t, rec)
	require.Equal(t, "File uploaded successfully!", up.Message)
	require.Equal(t, "pdf", up.BookData.FileType)
	require.Equal(t, aliceID, up.BookData.UserID)
	bookID := up.BookData.ID

	rec = env.do(httptest.NewRequest(http.MethodGet, "/thumbnails/"+bookID+".jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, fakeJPEG, rec.Body.Bytes())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/books/"+bookID+".pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.upload(access, "notes.txt", "text/plain", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(access, "fake.pdf", "application/pdf", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(access, "big.pdf", "application/pdf", append([]byte("%PDF"), make([]byte, 1<<20)...))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = env.upload(access, "Dune.epub", "application/epub+zip", []byte("PK\x03\x04mimetypeapplication/epub+zip"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	epubID := decode[uploadResponse](t, rec).BookData.ID
	require.NoFileExists(t, env.disk.ThumbnailPath(epubID))

	rec = env.doJSON(http.MethodGet, fmt.Sprintf("/library/%d", aliceID), nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	lib := decode[libraryResponse](t, rec)
	require.Len(t, lib.Books, 2)
	require.Equal(t, bookID, lib.Books[0].ID)

	rec = env.doJSON(http.MethodGet, fmt.Sprintf("/library/%d", aliceID), nil, bobAccess)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.doJSON(http.MethodGet, fmt.Sprintf("/api/v1/library/%d", bobID), nil, bobAccess)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[libraryResponse](t, rec).Books)

	rec = env.doJSON(http.MethodGet, fmt.Sprintf("/library/%d/search?q=go", aliceID), nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[searchResponse](t, rec)
	require.Equal(t, int64(1), found.Total)
	require.Equal(t, bookID, found.Books[0].ID)

	rec = env.doJSON(http.MethodPut, "/edit/"+bookID, map[string]string{}, access)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(http.MethodPut, "/edit/"+bookID, map[string]string{"author": "Donovan"}, bobAccess)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(http.MethodPut, "/edit/"+bookID, map[string]string{"author": "Donovan"}, access)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(http.MethodGet, fmt.Sprintf("/library/%d", aliceID), nil, access)
	lib = decode[libraryResponse](t, rec)
	require.Equal(t, "Donovan", *lib.Books[0].Author)
	require.Equal(t, "The Go Programming Language", lib.Books[0].Title)

	rec = env.doJSON(http.MethodDelete, "/delete/"+bookID, nil, bobAccess)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(http.MethodDelete, "/delete/"+bookID, nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoFileExists(t, env.disk.BookPath(bookID, "pdf"))
	require.NoFileExists(t, env.disk.ThumbnailPath(bookID))

	rec = env.doJSON(http.MethodDelete, "/delete/"+bookID, nil, access)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload_ThumbnailFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	_, access, _ := env.registerAndLogin("alice", "pw")
	env.library.Renderers[models.FileTypePDF] = staticRenderer{err: fmt.Errorf("pdftoppm: exit status 1")}

	rec := env.upload(access, "a.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "pdftoppm")
}

func TestUploadAndDelete_LogCaller(t *testing.T) {
	env := newTestEnv(t, 0)
	var buf bytes.Buffer
	env.e.Use(loggingmw.RequestLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	_, access, _ := env.registerAndLogin("alice", "pw")

	rec := env.upload(access, "a.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bookID := decode[uploadResponse](t, rec).BookData.ID

	rec = env.doJSON(http.MethodDelete, "/delete/"+bookID, nil, access)
	require.Equal(t, http.StatusOK, rec.Code)

	var uploaded, deleted map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		switch entry["msg"] {
		case "upload_accepted":
			uploaded = entry
		case "delete_done":
			deleted = entry
		}
	}
	require.NotNil(t, uploaded, buf.String())
	require.NotNil(t, deleted, buf.String())
	require.Equal(t, "alice", uploaded["username"])
	require.Equal(t, bookID, uploaded["book_id"])
	require.Equal(t, "alice", deleted["username"])
	require.Equal(t, bookID, deleted["book_id"])
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	env := newTestEnv(t, 0)
	id, _, refresh := env.registerAndLogin("alice", "pw")

	rec := env.doJSON(http.MethodGet, fmt.Sprintf("/library/%d", id), nil, refresh)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)

	require.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	require.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, 1)

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		rec := env.doJSON(http.MethodPost, "/login", map[string]string{"username": "ghost", "password": "pw"}, "")
		codes[rec.Code]++
	}
	require.Positive(t, codes[http.StatusTooManyRequests])
}
