package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/podushkina/asynctask/internal/service"
	"github.com/podushkina/asynctask/internal/task"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	service *service.Service
	log     logrus.FieldLogger
}

func NewHandler(svc *service.Service, log logrus.FieldLogger) *Handler {
	return &Handler{service: svc, log: log.WithField("component", "http")}
}

type CreateTaskRequest struct {
	Input     *string  `json:"input"`
	DelayMS   *float64 `json:"delayMs,omitempty"`
	TimeoutMS *float64 `json:"timeoutMs,omitempty"`
}

type CreateTaskResponse struct {
	TaskID string `json:"taskId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Input == nil {
		respondError(w, http.StatusBadRequest, "input is required")
		return
	}

	delay, ok := millis(req.DelayMS)
	if !ok {
		respondError(w, http.StatusBadRequest, "delayMs is out of range")
		return
	}
	timeout, ok := millis(req.TimeoutMS)
	if !ok {
		respondError(w, http.StatusBadRequest, "timeoutMs is out of range")
		return
	}

	id, err := h.service.Submit(r.Context(), service.SubmitRequest{
		Input:   *req.Input,
		Delay:   delay,
		Timeout: timeout,
	})
	if err != nil {
		h.respondTaskError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, CreateTaskResponse{TaskID: id})
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.service.Query(r.Context(), id)
	if err != nil {
		h.respondTaskError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrCapacityExceeded):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, task.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrTaskTimedOut):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		h.log.WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func millis(v *float64) (*time.Duration, bool) {
	if v == nil {
		return nil, true
	}
	d, ok := service.Millis(*v)
	if !ok {
		return nil, false
	}
	return &d, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
