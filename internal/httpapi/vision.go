package httpapi

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
)

// Vision routes forward an uploaded image to the Python vision microservice
// and relay its JSON verbatim inside the envelope. Uploads arrive either as a
// multipart "image" part or as JSON {"imageBase64": ...}.

func (s *Server) handleVisionDetect(w http.ResponseWriter, r *http.Request) {
	s.proxyVision(w, r, "objects detected", s.vision.Detect)
}

func (s *Server) handleVisionOCR(w http.ResponseWriter, r *http.Request) {
	s.proxyVision(w, r, "text extracted", s.vision.OCR)
}

func (s *Server) handleVisionNavigate(w http.ResponseWriter, r *http.Request) {
	s.proxyVision(w, r, "navigation guidance", s.vision.Navigate)
}

func (s *Server) handleVisionAnalyze(w http.ResponseWriter, r *http.Request) {
	s.proxyVision(w, r, "scene analyzed", s.vision.Analyze)
}

func (s *Server) proxyVision(w http.ResponseWriter, r *http.Request, message string, call func(context.Context, []byte) (map[string]any, error)) {
	image, ok := readImageUpload(w, r)
	if !ok {
		return
	}
	result, err := call(r.Context(), image)
	if err != nil {
		s.metrics.GatewayErrors.WithLabelValues("vision", "proxy").Inc()
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, message, result)
}

func readImageUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			respondInvalid(w, "invalid multipart form")
			return nil, false
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			respondInvalid(w, "image file is required")
			return nil, false
		}
		defer file.Close()
		raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil || len(raw) == 0 {
			respondInvalid(w, "failed to read image file")
			return nil, false
		}
		return raw, true
	}

	var req struct {
		ImageBase64 string `json:"imageBase64"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ImageBase64 == "" {
		respondInvalid(w, "imageBase64 is required")
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		respondInvalid(w, "imageBase64 must be valid base64")
		return nil, false
	}
	return raw, true
}
