package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/Skotchmaster/bookshelf/internal/models"
)

func (r *GormRepo) CreateBook(ctx context.Context, book *models.Book) error {
	return r.DB.WithContext(ctx).Create(book).Error
}

func (r *GormRepo) GetBook(ctx context.Context, id string, ownerID uint) (*models.Book, error) {
	var book models.Book
	if err := r.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *GormRepo) ListBooksByOwner(ctx context.Context, ownerID uint) ([]models.Book, error) {
	books := make([]models.Book, 0)
	if err := r.DB.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

// UpdateBook applies fields in one UPDATE statement and returns the fresh row.
func (r *GormRepo) UpdateBook(ctx context.Context, id string, ownerID uint, fields map[string]any) (*models.Book, error) {
	res := r.DB.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ? AND user_id = ?", id, ownerID).
		Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetBook(ctx, id, ownerID)
}

func (r *GormRepo) DeleteBook(ctx context.Context, id string, ownerID uint) error {
	res := r.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, ownerID).
		Delete(&models.Book{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SearchBooks matches q case-insensitively against title and author.
func (r *GormRepo) SearchBooks(ctx context.Context, ownerID uint, q string, offset, limit int) (int64, []models.Book, error) {
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	where := "user_id = ? AND (LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(COALESCE(author, '')) LIKE ? ESCAPE '\\')"

	var total int64
	if err := r.DB.WithContext(ctx).
		Model(&models.Book{}).
		Where(where, ownerID, pattern, pattern).
		Count(&total).Error; err != nil {
		return 0, nil, err
	}

	books := make([]models.Book, 0, limit)
	if err := r.DB.WithContext(ctx).
		Where(where, ownerID, pattern, pattern).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&books).Error; err != nil {
		return 0, nil, err
	}
	return total, books, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
