package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// maxImageDimension bounds the longest side of images sent to a model
const maxImageDimension = 2048

// documentReaderRole is the system prompt given to every provider
const documentReaderRole = "You are an expert at reading identity documents. You must carefully read all text in images and extract accurate information."

// scanTemperature is the sampling temperature for document scans
const scanTemperature = 0

// documentScanPromptTemplate is the shared prompt used by all LLM providers for scanning identity documents
const documentScanPromptTemplate = `You are analyzing a photo or scan of an identity document (national ID card, passport, or driving license). Carefully read all text in the image and extract the following information:

1. **Document Type**: One of "idcard", "passport" or "license". Use "unknown" if the document is none of these.

2. **Document Number**: The ID number, passport number or license number exactly as printed, without spaces.

3. **Full Name**: The holder's full name as printed on the document.

4. **Date of Birth**: The holder's date of birth converted to ISO 8601 format (YYYY-MM-DD).

5. **Identifier Check**: The user says their ID number is "%s". Report whether this value appears on the document.

6. **Text**: All readable text on the document, lines separated by "\n".

Return ONLY valid JSON in this exact format:
{
  "document_type": "passport",
  "document_number": "A123456789",
  "full_name": "Full Name",
  "date_of_birth": "YYYY-MM-DD",
  "keyword_found": true,
  "text": "..."
}

Important:
- The date must be in YYYY-MM-DD format
- keyword_found must be a boolean
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// documentScanPrompt renders the scan prompt for keyword
func documentScanPrompt(keyword string) string {
	keyword = strings.ReplaceAll(keyword, `"`, "")
	return fmt.Sprintf(documentScanPromptTemplate, keyword)
}

// fitImage downscales img so its longest side is at most maxImageDimension
func fitImage(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxImageDimension && b.Dy() <= maxImageDimension {
		return img
	}
	return imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
}

// encodePNG encodes img as PNG after bounding its size
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, fitImage(img)); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfToImage converts the first page of a PDF to a PNG image
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Identity documents are single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	return encodePNG(img)
}

// imageToPNG converts any image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Check for HEIC/HEIF format (common on iPhones) - Go's standard image package doesn't support it
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		// Decode standard image formats (JPEG, PNG, GIF)
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	return encodePNG(img)
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 with brand 'heic', 'heif', 'mif1' or 'msf1'
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// isPDF checks the MIME type and the %PDF magic
func isPDF(data []byte, mimeType string) bool {
	return mimeType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-"))
}

// convertToPNG converts PDFs and images to PNG format.
// PNG input is re-encoded only when it exceeds maxImageDimension.
// Returns the PNG data and a boolean indicating if conversion occurred
func convertToPNG(imageData []byte, mimeType string) ([]byte, bool, error) {
	if isPDF(imageData, mimeType) {
		pngData, err := pdfToImage(imageData)
		if err != nil {
			return nil, false, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, true, nil
	}

	if mimeType == "image/png" && !isHEICFormat(imageData) {
		cfg, err := png.DecodeConfig(bytes.NewReader(imageData))
		if err == nil && cfg.Width <= maxImageDimension && cfg.Height <= maxImageDimension {
			return imageData, false, nil
		}
	}

	pngData, err := imageToPNG(imageData, mimeType)
	if err != nil {
		return nil, false, fmt.Errorf("converting image to PNG: %w", err)
	}
	return pngData, true, nil
}

// prepareImageData normalizes the MIME type and converts the image to PNG if needed
// Returns the final image data, the MIME type to use, and whether conversion occurred
func prepareImageData(imageData []byte, contentType string) ([]byte, string, bool, error) {
	if len(imageData) == 0 {
		return nil, "", false, fmt.Errorf("empty document")
	}

	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	finalImageData, converted, err := convertToPNG(imageData, mimeType)
	if err != nil {
		return nil, "", false, err
	}

	// After conversion the data is always PNG
	return finalImageData, "image/png", converted, nil
}
