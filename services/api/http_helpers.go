package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"codeshield/services/scanner"
)

// bodyTooLargeError reports a request body cut off by MaxBytesReader. The
// source size is unknown at that point, so only the body limit is reported.
type bodyTooLargeError struct {
	limit int64
}

func (e *bodyTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.limit)
}

// limitBody caps the request body at limit bytes.
func limitBody(w http.ResponseWriter, r *http.Request, limit int64) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &bodyTooLargeError{limit: tooLarge.Limit}
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondValidation writes a rejected source with its machine-readable reason.
func respondValidation(w http.ResponseWriter, status int, reason string, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error(), "reason": reason})
}

func respondDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *bodyTooLargeError
	if errors.As(err, &tooLarge) {
		respondValidation(w, http.StatusRequestEntityTooLarge, scanner.ReasonTooLarge, err)
		return
	}
	respondError(w, http.StatusBadRequest, err)
}

func (a *API) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.config.RequestTimeout)
}
