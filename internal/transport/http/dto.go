package httpserver

import (
	"github.com/Skotchmaster/bookshelf/internal/models"
)

type credentialsRequest struct {
	Username string `json:"username" form:"username" validate:"required,max=150"`
	Password string `json:"password" form:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token" validate:"required"`
}

type editRequest struct {
	Title  *string `json:"title"`
	Author *string `json:"author"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type bookData struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Author   *string `json:"author"`
	FileType string  `json:"file_type"`
	UserID   uint    `json:"user_id"`
}

type uploadResponse struct {
	BookData bookData `json:"bookData"`
	Message  string   `json:"message"`
}

type libraryResponse struct {
	Books []bookData `json:"books"`
}

type searchResponse struct {
	Total int64      `json:"total"`
	Books []bookData `json:"books"`
}

func toBookData(b models.Book) bookData {
	return bookData{
		ID:       b.ID,
		Title:    b.Title,
		Author:   b.Author,
		FileType: string(b.FileType),
		UserID:   b.UserID,
	}
}

func toBookList(books []models.Book) []bookData {
	out := make([]bookData, len(books))
	for i, b := range books {
		out[i] = toBookData(b)
	}
	return out
}
