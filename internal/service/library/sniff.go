package library

import (
	"bytes"
	"strings"

	"github.com/Skotchmaster/bookshelf/internal/models"
)

// SniffLen is how much of the upload is inspected to decide its type.
const SniffLen = 2048

var (
	pdfMagic  = []byte("%PDF")
	zipMagics = [][]byte{
		[]byte("PK\x03\x04"),
		[]byte("PK\x05\x06"),
		[]byte("PK\x07\x08"),
	}
)

// AcceptsContentType is the coarse filter on the client-declared type.
func AcceptsContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "pdf") ||
		strings.Contains(ct, "epub") ||
		strings.Contains(ct, "zip")
}

// Sniff decides the file type from the leading bytes, ignoring what the client
// declared. Any ZIP container is taken to be an EPUB; without a ZIP
// signature the epub mimetype text proves nothing.
func Sniff(data []byte) (models.FileType, error) {
	head := data
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}

	if bytes.HasPrefix(head, pdfMagic) {
		return models.FileTypePDF, nil
	}
	for _, magic := range zipMagics {
		if bytes.HasPrefix(head, magic) {
			return models.FileTypeEPUB, nil
		}
	}
	return "", ErrUnsupportedMediaType
}
