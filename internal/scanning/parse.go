package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// documentResponse mirrors the model output; pointers tell "false" from "absent"
type documentResponse struct {
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	FullName       string `json:"full_name"`
	DateOfBirth    string `json:"date_of_birth"`
	KeywordFound   *bool  `json:"keyword_found"`
	Text           string `json:"text"`
}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"January 2, 2006",
}

// parseDocumentJSON parses the JSON response of a model and checks keyword against it
func parseDocumentJSON(text string, keyword string) (*DocumentData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var resp documentResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &DocumentData{
		DocumentType:   normalizeDocumentType(resp.DocumentType),
		DocumentNumber: strings.TrimSpace(resp.DocumentNumber),
		FullName:       strings.Join(strings.Fields(resp.FullName), " "),
		DateOfBirth:    normalizeDate(resp.DateOfBirth),
		Keyword:        strings.TrimSpace(keyword),
		Text:           strings.TrimSpace(resp.Text),
	}

	// The model's own verdict counts only when it returned nothing to match against.
	data.KeywordFound = keywordOnDocument(data.Keyword, data.DocumentNumber, data.Text)
	if !data.KeywordFound && resp.KeywordFound != nil && *resp.KeywordFound && data.DocumentNumber == "" && data.Text == "" {
		data.KeywordFound = true
	}

	return data, nil
}

// normalizeDocumentType maps free-form model output onto the known document types
func normalizeDocumentType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case t == "":
		return DocumentUnknown
	case strings.Contains(t, "passport"):
		return DocumentPassport
	case strings.Contains(t, "licen"), strings.Contains(t, "driv"):
		return DocumentLicense
	case strings.Contains(t, "id"), strings.Contains(t, "identity"), strings.Contains(t, "national"):
		return DocumentIDCard
	}
	return DocumentUnknown
}

// normalizeDate converts a date into YYYY-MM-DD, or "" if it cannot be parsed
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}

// normalizeIdentifier uppercases s and drops everything but letters and digits
func normalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// keywordOnDocument reports whether keyword appears in the document number or
// text. In the text it has to cover whole tokens; separators between tokens are ignored.
func keywordOnDocument(keyword, number, text string) bool {
	k := normalizeIdentifier(keyword)
	if k == "" {
		return false
	}
	if normalizeIdentifier(number) == k {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		if spansTokens(identifierTokens(line), k) {
			return true
		}
	}
	return false
}

// identifierTokens splits s into uppercased runs of letters and digits
func identifierTokens(s string) []string {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, t := range tokens {
		tokens[i] = normalizeIdentifier(t)
	}
	return tokens
}

// spansTokens reports whether k is exactly a run of consecutive tokens
func spansTokens(tokens []string, k string) bool {
	for i := range tokens {
		rest := k
		for _, t := range tokens[i:] {
			if !strings.HasPrefix(rest, t) {
				break
			}
			rest = rest[len(t):]
			if rest == "" {
				return true
			}
		}
	}
	return false
}
