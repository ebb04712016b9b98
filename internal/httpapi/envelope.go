package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/eleni-ai/shepherd/internal/fault"
)

// envelope is the uniform JSON shape of every non-binary response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Status  int    `json:"status"`
}

func respondOK(w http.ResponseWriter, status int, message string, data any) {
	respondJSON(w, status, envelope{
		Success: true,
		Message: message,
		Data:    data,
		Status:  status,
	})
}

// respondFault maps the error taxonomy onto the envelope and status code.
func respondFault(w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)
	respondJSON(w, status, envelope{
		Success: false,
		Message: err.Error(),
		Status:  status,
	})
}

func respondInvalid(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusBadRequest, envelope{
		Success: false,
		Message: message,
		Status:  http.StatusBadRequest,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}
