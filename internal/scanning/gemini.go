package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiScanTimeout = 30 * time.Second

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Deterministic answers for the identifier check
	model.SetTemperature(scanTemperature)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(documentReaderRole)},
	}

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// ScanDocument reads an identity document and checks keyword against it
func (g *Gemini) ScanDocument(ctx context.Context, imageData []byte, contentType string, keyword string) (*DocumentData, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiScanTimeout)
	defer cancel()

	// PDFs and HEIC photos come back as a downscaled PNG
	pngData, _, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData takes the format suffix, not the MIME type
	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(documentScanPrompt(keyword)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	// A blocked document returns a candidate with no content
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var answer strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			answer.WriteString(string(text))
		}
	}

	data, err := parseDocumentJSON(answer.String(), keyword)
	if err != nil {
		return nil, fmt.Errorf("parsing document data: %w", err)
	}

	return data, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
