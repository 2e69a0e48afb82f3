package scanning

import "context"

// Identity document types recognized by the scanners
const (
	DocumentIDCard   = "idcard"
	DocumentPassport = "passport"
	DocumentLicense  = "license"
	DocumentUnknown  = "unknown"
)

// DocumentData contains extracted information from an identity document
type DocumentData struct {
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	FullName       string `json:"full_name"`
	DateOfBirth    string `json:"date_of_birth"` // ISO 8601 format, empty if unreadable
	Keyword        string `json:"keyword"`
	KeywordFound   bool   `json:"keyword_found"`
	Text           string `json:"text"`
}

// Scanner defines the interface for identity document scanning operations
type Scanner interface {
	// ScanDocument reads an image/PDF of an identity document and looks for keyword on it
	ScanDocument(ctx context.Context, imageData []byte, contentType string, keyword string) (*DocumentData, error)
	// Close closes the scanner and releases resources
	Close() error
}
