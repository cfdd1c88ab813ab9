package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/mutation"
	"github.com/opted/inventory/internal/review"
	"github.com/opted/inventory/internal/schema"
)

// maxBodyBytes bounds entry payloads.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writeJSON encode error", "err", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

// parseUID extracts and validates a node identifier path parameter.
func parseUID(w http.ResponseWriter, r *http.Request, paramName string) (dql.UID, bool) {
	raw := chi.URLParam(r, paramName)
	uid, ok := dql.ParseUID(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid uid: "+raw)
		return "", false
	}
	return uid, true
}

// intParam reads a positive integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// errorToHTTP maps compiler and store errors to HTTP responses.
func (h *Handler) errorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *schema.ValidationError
		ferr *schema.FieldError
		perr *schema.PermissionError
		terr *review.TransitionError
		serr *graphstore.StoreError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  verr.Error(),
			"code":   "VALIDATION_ERROR",
			"fields": verr.Errors,
		})
	case errors.As(err, &ferr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  ferr.Error(),
			"code":   "VALIDATION_ERROR",
			"fields": []*schema.FieldError{ferr},
		})
	case errors.Is(err, mutation.ErrAbstractType):
		writeError(w, http.StatusBadRequest, "ABSTRACT_TYPE", err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusForbidden, "FORBIDDEN", perr.Error())
	case errors.As(err, &terr):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", terr.Error())
	case errors.Is(err, graphstore.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "the entry was changed by someone else; reload and try again")
	case errors.Is(err, graphstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &serr):
		h.logger.ErrorContext(r.Context(), "store error", "op", serr.Op, "err", serr.Err)
		writeError(w, http.StatusBadGateway, "STORE_ERROR", "graph store unavailable")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "CANCELED", "request canceled")
	default:
		h.logger.ErrorContext(r.Context(), "internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
