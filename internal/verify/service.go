package verify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/idverify/internal/metrics"
	"github.com/zombor/idverify/internal/scanning"
)

// defaultMaxDocumentSize bounds decoded documents (high-resolution phone photos)
const defaultMaxDocumentSize = 50 << 20

var (
	// ErrMissingDocument is returned when no document image was submitted
	ErrMissingDocument = errors.New("document image is required")
	// ErrMissingIdentifier is returned when no ID number was submitted
	ErrMissingIdentifier = errors.New("identifier is required")
	// ErrInvalidImage is returned when the document is not valid base64
	ErrInvalidImage = errors.New("document image is not valid base64")
	// ErrDocumentTooLarge is returned for documents above maxDocumentSize
	ErrDocumentTooLarge = errors.New("document image is too large")
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles document recognition
type Service struct {
	scanner         scanning.Scanner
	metrics         *metrics.Metrics
	timeSource      TimeSource
	maxDocumentSize int
}

// NewService creates a new Service with the default time source
func NewService(scanner scanning.Scanner, m *metrics.Metrics) *Service {
	return NewServiceWithDeps(scanner, m, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(scanner scanning.Scanner, m *metrics.Metrics, timeSrc TimeSource) *Service {
	return &Service{
		scanner:         scanner,
		metrics:         m,
		timeSource:      timeSrc,
		maxDocumentSize: defaultMaxDocumentSize,
	}
}

// decodeImageBase64 decodes raw base64 or a data URL and returns the bytes
// plus the MIME type declared by the data URL, if any
func decodeImageBase64(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var declared string
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", ErrInvalidImage
		}
		declared = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		s = payload
	}
	s = strings.Join(strings.Fields(s), "")

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	return data, declared, nil
}

// detectContentType sniffs the document type, falling back to the declared one
func detectContentType(data []byte, declared string) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/") {
		return sniffed
	}
	return strings.ToLower(declared)
}

// maxBodySize bounds an OCR request body carrying a maximum size document
func (s *Service) maxBodySize() int64 {
	return int64(s.maxDocumentSize)/3*4 + 1<<20
}

// RecognizeDocument decodes the submitted document and scans it for the identifier
func (s *Service) RecognizeDocument(ctx context.Context, req OCRRequest) (*scanning.DocumentData, error) {
	if strings.TrimSpace(req.ImageBase64) == "" {
		return nil, ErrMissingDocument
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return nil, ErrMissingIdentifier
	}

	data, declared, err := decodeImageBase64(req.ImageBase64)
	if err != nil {
		s.metrics.IncrementScan("invalid")
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrMissingDocument
	}
	if len(data) > s.maxDocumentSize {
		s.metrics.IncrementScan("invalid")
		return nil, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(data))
	}
	contentType := detectContentType(data, declared)

	start := s.timeSource.Now()
	result, err := s.scanner.ScanDocument(ctx, data, contentType, keyword)
	elapsed := s.timeSource.Now().Sub(start)
	if err != nil {
		slog.Error("Failed to scan document",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.metrics.ObserveScan("failed", elapsed)
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	s.metrics.ObserveScan("ok", elapsed)

	slog.Info("Scanned document",
		"document_type", result.DocumentType,
		"keyword_found", result.KeywordFound,
		"duration", elapsed,
	)
	return result, nil
}
