package verify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/idverify/internal/capture"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderIndex(w); err != nil {
		slog.Error("Error rendering index", "error", err)
	}
}

const tooLargeMessage = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// ocrErrorMessage maps validation errors to the messages the page shows
func ocrErrorMessage(err error) (string, int) {
	switch {
	case errors.Is(err, ErrMissingDocument):
		return "Please upload ID file first", http.StatusBadRequest
	case errors.Is(err, ErrMissingIdentifier):
		return "Please enter your ID number", http.StatusBadRequest
	case errors.Is(err, ErrInvalidImage):
		return "The uploaded file could not be read. Please choose it again.", http.StatusBadRequest
	case errors.Is(err, ErrDocumentTooLarge):
		return tooLargeMessage, http.StatusRequestEntityTooLarge
	}
	return err.Error(), http.StatusBadGateway
}

// handleOCR scans an uploaded identity document for the user's ID number
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.service.maxBodySize())

	var req OCRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			message, code := ocrErrorMessage(ErrDocumentTooLarge)
			jsonError(w, message, code)
			return
		}
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.service.RecognizeDocument(r.Context(), req)
	if err != nil {
		slog.Error("Error recognizing document", "error", err)
		message, code := ocrErrorMessage(err)
		jsonError(w, message, code)
		return
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, result)
}

// handleOpenSession opens a camera session, releasing any previous one
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	status := s.sessions.Open()
	setCORSHeaders(w)
	w.Header().Set("Location", "/api/camera/sessions/"+status.ID)
	writeJSON(w, http.StatusCreated, status)
}

// handleSessionStatus returns the state of a camera session
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.sessions.Status(id)
	if err != nil {
		corsError(w, "Camera session not found", http.StatusNotFound)
		return
	}
	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, status)
}

// handleCapture takes the selfie and returns it as JPEG
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	artifact, err := s.sessions.Capture(id)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound):
		corsError(w, "Camera session not found", http.StatusNotFound)
		return
	case errors.Is(err, capture.ErrEncoding), errors.Is(err, capture.ErrNoFrame):
		slog.Warn("Capture produced no image", "session", id, "error", err)
		jsonError(w, "The picture could not be taken. Please try again.", http.StatusServiceUnavailable)
		return
	default:
		// Not streaming or already captured: nothing for the user to act on.
		setCORSHeaders(w)
		w.WriteHeader(http.StatusConflict)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", artifact.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(artifact.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(artifact.Height))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data)
}

// handleCloseSession releases a camera session
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Close(id); err != nil {
		corsError(w, "Camera session not found", http.StatusNotFound)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}
