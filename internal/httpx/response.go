package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-cached-orders/internal/apperr"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	codeNotFound   = "NOT_FOUND"
	codeValidation = "VALIDATION_ERROR"
	codeInternal   = "INTERNAL"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	ID      string `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service error taxonomy onto status codes. Anything unclassified is
// logged and reported as INTERNAL without leaking its text.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		nf *apperr.NotFoundError
		ve *apperr.ValidationError
	)
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: codeNotFound, Message: nf.Error(), Kind: nf.Kind, ID: nf.ID})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeValidation, Message: ve.Error(), Field: ve.Field})
	default:
		log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: codeInternal, Message: "internal error"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("body", "invalid json: %v", err)
	}
	return nil
}

func badID(raw string) error {
	return apperr.Invalid("id", "invalid id %q", raw)
}
