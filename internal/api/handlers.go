package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/plugandtel/callpolicy/internal/policy"
)

// decideRequest is the JSON body of POST /api/v1/decide.
type decideRequest struct {
	CallID              string `json:"call_id"`
	CallerNumber        string `json:"caller_number"`
	CallerName          string `json:"caller_name"`
	DialedNumber        string `json:"dialed_number"`
	AccountID           string `json:"account_id"`
	FailedOutgoingSpool bool   `json:"failed_outgoing_spool,omitempty"`
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDecide runs the decision pipeline for one call-setup event.
// The decision is data, not an HTTP error: sanity failures and abstains
// come back 200 with the corresponding outcome, and the host applies its
// "do nothing, continue call" handling.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}

	d, err := s.pipeline.Decide(r.Context(), policy.Event{
		CallID:              req.CallID,
		CallerIDNum:         req.CallerNumber,
		CallerIDName:        req.CallerName,
		DialedNumber:        req.DialedNumber,
		AccountID:           req.AccountID,
		FailedOutgoingSpool: req.FailedOutgoingSpool,
	})
	if err != nil {
		if errors.Is(err, policy.ErrSanityCheckFailed) {
			writeJSON(w, http.StatusOK, policy.Decision{Outcome: policy.OutcomeSanityFailed})
			return
		}
		slog.Error("decide failed", "call_id", req.CallID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleReload rebuilds the configuration from its sources, re-validates
// it, and atomically swaps the published snapshot. A failed reload leaves
// the current snapshot untouched.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.reload()
	if err != nil {
		slog.Error("config reload rejected", "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.holder.Swap(cfg)
	slog.Info("configuration reloaded")
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}
