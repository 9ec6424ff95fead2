package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/felipepmaragno/sqlassist/internal/assistant"
)

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)

	result, err := h.assistant.Confirm(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}
	writeBatch(w, result)
}

func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)

	pending, err := h.assistant.Deny(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response":        assistant.MessageCancelled,
		"generated_query": pending.SQL,
	})
}

type regenerateRequest struct {
	Model              *string  `json:"model"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          *int     `json:"max_tokens"`
	CertaintyThreshold *float64 `json:"certainty_threshold"`
	APIKey             string   `json:"api_key"`
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)

	// An empty body, chunked or not, means no overrides.
	var body regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.allow(w, r, sessionID) {
		return
	}

	answer, err := h.assistant.Regenerate(r.Context(), sessionID, assistant.Overrides{
		Model:              body.Model,
		Temperature:        body.Temperature,
		MaxTokens:          body.MaxTokens,
		CertaintyThreshold: body.CertaintyThreshold,
		APIKey:             body.APIKey,
	})
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, newAnswerResponse(answer))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)

	sess, err := h.assistant.Session(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)

	sess, err := h.assistant.ResetSession(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

type budgetRequest struct {
	Budget *float64 `json:"budget"`
}

func (h *Handler) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)

	var body budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Budget == nil {
		writeError(w, http.StatusBadRequest, "budget is required")
		return
	}

	sess, err := h.assistant.SetBudget(r.Context(), sessionID, *body.Budget)
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}
