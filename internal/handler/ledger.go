package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/ledger"
	"github.com/madisonstylee/thetidytoad-sub000/internal/websocket"
)

type LedgerHandler struct {
	engine *ledger.Engine
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewLedgerHandler(engine *ledger.Engine, hub *websocket.Hub, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{engine: engine, hub: hub, logger: logger}
}

func (h *LedgerHandler) broadcast(familyID, childID int64) {
	if h.hub != nil {
		h.hub.Broadcast(familyID, websocket.NewMessage("ledger", "updated", childID, nil))
	}
}

func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}
	// The engine scopes reads: children to their own reserve, parents to
	// their family's.
	l, err := h.engine.GetLedger(actor, childID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type dispenseRequest struct {
	Amount string `json:"amount"`
	Points int64  `json:"points"`
}

func (h *LedgerHandler) DispenseMoney(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}

	var req dispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	if err := h.engine.DispenseMoney(r.Context(), actor, childID, amount); err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispensed"})
}

func (h *LedgerHandler) DispensePoints(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}

	var req dispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.engine.DispensePoints(r.Context(), actor, childID, req.Points); err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispensed"})
}

func (h *LedgerHandler) DispenseSpecial(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}
	rewardID, err := parseIDParam(r, "rewardID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reward id"})
		return
	}

	txnKey, err := h.engine.DispenseSpecial(r.Context(), actor, childID, rewardID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending_redemption", "transaction_key": txnKey})
}

func (h *LedgerHandler) RequestRedemption(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}
	rewardID, err := parseIDParam(r, "rewardID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reward id"})
		return
	}

	if err := h.engine.RequestRedemption(r.Context(), actor, childID, rewardID); err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending_redemption"})
}

func (h *LedgerHandler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}
	rewardID, err := parseIDParam(r, "rewardID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reward id"})
		return
	}

	if err := h.engine.ApproveRedemption(r.Context(), actor, childID, rewardID); err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

type grantRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *LedgerHandler) GrantSpecial(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.engine.GrantSpecial(r.Context(), actor, childID, req.Title, req.Description); err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

type interestRateRequest struct {
	Rate string `json:"rate"`
}

func (h *LedgerHandler) SetInterestRate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}

	var req interestRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid rate"})
		return
	}

	if err := h.engine.SetInterestRate(r.Context(), actor, childID, rate); err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *LedgerHandler) ApplyInterest(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	childID, err := parseIDParam(r, "childID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child id"})
		return
	}

	credited, err := h.engine.ApplyInterest(r.Context(), actor, childID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, childID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "credited": credited.String()})
}
