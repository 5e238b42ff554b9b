package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleLedgerRecord(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(chi.URLParam(r, "target"))
	if target == "" {
		respondError(w, http.StatusBadRequest, errors.New("target is required"))
		return
	}

	ctx, cancel := a.withTimeout(r.Context())
	defer cancel()

	record, err := a.ledger.QueryScan(ctx, target)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Errorf("query ledger: %w", err))
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("no attestation for %s", target))
		return
	}

	verified, err := a.ledger.VerifyContract(ctx, target)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Errorf("verify contract: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"record": record, "verified": verified})
}
