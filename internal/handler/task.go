package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
	"github.com/madisonstylee/thetidytoad-sub000/internal/recurrence"
	"github.com/madisonstylee/thetidytoad-sub000/internal/task"
	"github.com/madisonstylee/thetidytoad-sub000/internal/websocket"
)

type TaskHandler struct {
	manager *task.Manager
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewTaskHandler(manager *task.Manager, hub *websocket.Hub, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{manager: manager, hub: hub, logger: logger}
}

func (h *TaskHandler) broadcast(familyID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(familyID, msg)
	}
}

type taskRequest struct {
	AssignedTo  int64      `json:"assigned_to"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Reward      rewardSpec `json:"reward"`
	Recurrence  string     `json:"recurrence"`
	DueDate     *time.Time `json:"due_date"`
}

type rewardSpec struct {
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Points      int64  `json:"points"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// toModel translates the wire reward into the tagged union. Unknown kinds
// and bad amounts fall out as validation errors downstream.
func (r rewardSpec) toModel() (model.RewardSpec, error) {
	switch model.RewardKind(r.Kind) {
	case model.RewardMoney:
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return model.RewardSpec{}, err
		}
		return model.MoneyReward(amount), nil
	case model.RewardPoints:
		return model.PointsReward(r.Points), nil
	case model.RewardSpecial:
		return model.SpecialReward(r.Title, r.Description), nil
	default:
		return model.RewardSpec{Kind: model.RewardKind(r.Kind)}, nil
	}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)

	reward, err := req.Reward.toModel()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reward amount"})
		return
	}
	rule, err := recurrence.Parse(req.Recurrence)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	t, err := h.manager.CreateTask(r.Context(), actor, req.AssignedTo, req.Title, req.Description, reward, rule, req.DueDate)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(t.FamilyID, websocket.NewMessage("task", "created", t.ID, nil))
	writeJSON(w, http.StatusCreated, t)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	tasks, err := h.manager.ListTasks(r.Context(), actor)
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	t, err := h.manager.GetTask(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	t, err := h.manager.CompleteTask(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(t.FamilyID, websocket.NewMessage("task", "completed", t.ID, nil))
	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	t, err := h.manager.ApproveTask(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(t.FamilyID, websocket.NewMessage("task", "approved", t.ID, nil))
	h.broadcast(t.FamilyID, websocket.NewMessage("ledger", "updated", t.AssignedTo, nil))
	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)

	reward, err := req.Reward.toModel()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reward amount"})
		return
	}
	rule, err := recurrence.Parse(req.Recurrence)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	t, err := h.manager.EditTask(r.Context(), actor, id, req.AssignedTo, req.Title, req.Description, reward, rule, req.DueDate)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(t.FamilyID, websocket.NewMessage("task", "updated", t.ID, nil))
	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if err := h.manager.DeleteTask(r.Context(), actor, id); err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(actor.FamilyID, websocket.NewMessage("task", "deleted", id, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
