// Package ocr is the client side of the document OCR endpoint.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is the body of an OCR call
type Request struct {
	Keyword     string `json:"keyword"`
	ImageBase64 string `json:"imageBase64"`
}

// Client calls a single OCR endpoint. There is no retry; one call, one answer.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a client for the /api/ocr endpoint under baseURL
func NewClient(baseURL string) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{
		Timeout: 150 * time.Second, // The endpoint waits on a vision model
	})
}

// NewClientWithHTTP creates a client with a custom http.Client
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/api/ocr",
		client:   httpClient,
	}
}

// Recognize sends the document image and the user's identifier to the
// endpoint and returns its JSON response untouched.
func (c *Client) Recognize(ctx context.Context, keyword string, image []byte) (json.RawMessage, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("document image is required")
	}
	if strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("identifier is required")
	}

	body, err := json.Marshal(Request{
		Keyword:     keyword,
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling OCR endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("OCR endpoint error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("OCR endpoint returned invalid JSON")
	}

	return json.RawMessage(data), nil
}
