// Package search keeps an elasticsearch index of book metadata so owners can
// find books by title or author.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/Skotchmaster/bookshelf/internal/models"
)

var ErrSearch = errors.New("search error")

type Index interface {
	IndexBook(ctx context.Context, book models.Book) error
	DeleteBook(ctx context.Context, id string) error
	Search(ctx context.Context, ownerID uint, query string, from, size int) (int64, []models.Book, error)
}

type Config struct {
	URL      string
	User     string
	Password string
}

// NewClient connects and checks the cluster answers before handing the client out.
func NewClient(cfg Config, logger *slog.Logger) (*elasticsearch.Client, error) {
	logger.Info("es_connect", "url", cfg.URL)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.User,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch info: %s: %s", res.Status(), body)
	}

	logger.Info("es_connected", "url", cfg.URL)
	return client, nil
}

type ESIndex struct {
	Client *elasticsearch.Client
	Index  string
}

type bookDoc struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Author    *string         `json:"author"`
	FileType  models.FileType `json:"file_type"`
	UserID    uint            `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
}

func docFromBook(b models.Book) bookDoc {
	return bookDoc{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		FileType:  b.FileType,
		UserID:    b.UserID,
		CreatedAt: b.CreatedAt,
	}
}

func (d bookDoc) book() models.Book {
	return models.Book{
		ID:        d.ID,
		Title:     d.Title,
		Author:    d.Author,
		FileType:  d.FileType,
		UserID:    d.UserID,
		CreatedAt: d.CreatedAt,
	}
}

func (i *ESIndex) IndexBook(ctx context.Context, book models.Book) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(docFromBook(book)); err != nil {
		return fmt.Errorf("%w: %w", ErrSearch, err)
	}

	res, err := i.Client.Index(
		i.Index,
		&buf,
		i.Client.Index.WithContext(ctx),
		i.Client.Index.WithDocumentID(book.ID),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSearch, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: index %s: %s", ErrSearch, book.ID, res.Status())
	}
	return nil
}

// DeleteBook treats a missing document as already deleted.
func (i *ESIndex) DeleteBook(ctx context.Context, id string) error {
	res, err := i.Client.Delete(i.Index, id, i.Client.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSearch, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: delete %s: %s", ErrSearch, id, res.Status())
	}
	return nil
}

func (i *ESIndex) Search(ctx context.Context, ownerID uint, query string, from, size int) (int64, []models.Book, error) {
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":     query,
						"fields":    []string{"title^2", "author"},
						"fuzziness": "AUTO",
					},
				},
				"filter": map[string]any{
					"term": map[string]any{"user_id": ownerID},
				},
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}

	res, err := i.Client.Search(
		i.Client.Search.WithContext(ctx),
		i.Client.Search.WithIndex(i.Index),
		i.Client.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, nil, fmt.Errorf("%w: %s", ErrSearch, res.Status())
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source bookDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, fmt.Errorf("%w: decode: %w", ErrSearch, err)
	}

	books := make([]models.Book, len(r.Hits.Hits))
	for n, hit := range r.Hits.Hits {
		books[n] = hit.Source.book()
	}
	return r.Hits.Total.Value, books, nil
}
