package models

import "time"

type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeEPUB FileType = "epub"
)

// FileTypes lists every extension a stored book can have.
var FileTypes = []FileType{FileTypePDF, FileTypeEPUB}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null"     json:"username"`
	PasswordHash string    `gorm:"not null"                 json:"-"`
	CreatedAt    time.Time `                                json:"created_at"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"             json:"id"`
	JTI       string    `gorm:"uniqueIndex;not null"   json:"jti"`
	UserID    uint      `gorm:"index;not null"         json:"user_id"`
	Username  string    `gorm:"index;not null"         json:"username"`
	ExpiresAt int64     `gorm:"not null"               json:"expires_at"`
	Revoked   bool      `gorm:"not null;default:false" json:"revoked"`
	CreatedAt time.Time `                              json:"created_at"`
}

// Active reports whether the token can still be used at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Unix() < t.ExpiresAt
}

type Book struct {
	ID        string    `gorm:"primaryKey;size:36"   json:"id"`
	Title     string    `gorm:"not null"             json:"title"`
	Author    *string   `                            json:"author"`
	FileType  FileType  `gorm:"size:8;not null"      json:"file_type"`
	UserID    uint      `gorm:"index;not null"       json:"user_id"`
	CreatedAt time.Time `                            json:"created_at"`
	UpdatedAt time.Time `                            json:"updated_at"`
}
