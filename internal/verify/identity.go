package verify

import (
	"github.com/zombor/idverify/internal/capture"
)

// IDType is the kind of identity document the user uploads
type IDType string

const (
	IDTypeIDCard   IDType = "idcard"
	IDTypePassport IDType = "passport"
	IDTypeLicense  IDType = "license"
)

// DefaultIDType is preselected on the form
const DefaultIDType = IDTypePassport

// IDTypes lists the accepted document types in display order
var IDTypes = []IDType{IDTypeIDCard, IDTypePassport, IDTypeLicense}

// Label returns the radio button label
func (t IDType) Label() string {
	switch t {
	case IDTypeIDCard:
		return "ID card"
	case IDTypePassport:
		return "Passport"
	case IDTypeLicense:
		return "Driving license"
	}
	return string(t)
}

// ShortLabel returns the label used on the upload button
func (t IDType) ShortLabel() string {
	if t == IDTypeLicense {
		return "License"
	}
	return t.Label()
}

// OCRRequest is the body of POST /api/ocr
type OCRRequest struct {
	Keyword     string `json:"keyword"`
	ImageBase64 string `json:"imageBase64"`
}

// SessionStatus describes a camera session to the page
type SessionStatus struct {
	ID    string        `json:"id"`
	State capture.State `json:"state"`
	Error string        `json:"error,omitempty"`
}
