package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"codeshield/services/archive"
	"codeshield/services/findings"
	"codeshield/services/orchestrator"
	"codeshield/services/registry"
	"codeshield/services/scanner"
)

type submitRequest struct {
	Target   string          `json:"target"`
	CodeHash string          `json:"codeHash"`
	Source   json.RawMessage `json:"source"`
}

type submitResponse struct {
	ScanID string `json:"scanId"`
	Status string `json:"status"`
}

// decodeSource returns the request's source as a decoded JSON value so a
// non-string source is reported as wrong_type rather than a decode error.
func decodeSource(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	return v, nil
}

func (a *API) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, a.config.maxBodyBytes())

	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	value, err := decodeSource(req.Source)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	source, err := scanner.ValidateInput(value, a.config.MaxSourceBytes)
	var verr *scanner.ValidationError
	if errors.As(err, &verr) {
		respondValidation(w, http.StatusBadRequest, verr.Reason, verr)
		return
	}

	id, err := a.scans.SubmitScan(r.Context(), orchestrator.ScanRequest{
		Target:   req.Target,
		CodeHash: req.CodeHash,
		Source:   source,
	})
	switch {
	case err == nil:
	case errors.As(err, &verr):
		respondValidation(w, http.StatusBadRequest, verr.Reason, verr)
		return
	case errors.Is(err, scanner.ErrBusy):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		respondError(w, http.StatusTooManyRequests, err)
		return
	case errors.Is(err, orchestrator.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err)
		return
	default:
		a.logger.Error().Err(err).Msg("submit scan")
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusAccepted, submitResponse{ScanID: id, Status: "submitted"})
}

func (a *API) handleGetScan(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.lookupScan(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (a *API) handleListScans(w http.ResponseWriter, r *http.Request) {
	records, err := a.scans.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filtered := records[:0:0]
		for _, rec := range records {
			if string(rec.Status) == status {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []registry.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"scans": records})
}

func (a *API) handleScanReport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = archive.FormatJSON
	}
	if format != archive.FormatJSON && format != archive.FormatSARIF {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
		return
	}

	rec, ok := a.lookupScan(w, r)
	if !ok {
		return
	}
	if rec.Status != registry.StatusCompleted || rec.Result == nil {
		respondError(w, http.StatusConflict, fmt.Errorf("scan %s is %s", rec.ID, rec.Status))
		return
	}

	if a.reports != nil && len(rec.Result.ArchiveKeys) > 0 {
		url, err := a.reports.URL(r.Context(), rec.ID, format)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Errorf("presign report: %w", err))
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"format":    format,
			"url":       url,
			"expiresIn": int(a.reports.TTL().Seconds()),
		})
		return
	}

	if format == archive.FormatSARIF {
		version := a.config.ModelVersion
		if att := rec.Result.Attestation; att != nil && att.ModelVersion != "" {
			version = att.ModelVersion
		}
		var list []findings.Finding
		if rec.Result.AnalysisDetails != nil {
			list = rec.Result.AnalysisDetails.Findings
		}
		respondJSON(w, http.StatusOK, findings.ToSARIF(list, "codeshield", version))
		return
	}
	respondJSON(w, http.StatusOK, rec.Result)
}

func (a *API) lookupScan(w http.ResponseWriter, r *http.Request) (*registry.Record, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, errors.New("scan id is required"))
		return nil, false
	}
	rec, err := a.scans.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("scan %s not found", id))
		return nil, false
	}
	return rec, true
}
