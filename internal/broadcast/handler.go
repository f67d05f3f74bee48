package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/session"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/timeline"
)

// Handler exposes the control surface over HTTP using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Routes mounts the control surface on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/sessions", h.ListSessions)
	r.Route("/sessions/{date}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/start", h.StartSession)
		r.Post("/stop", h.StopSession)
	})
	r.Route("/schedules/{date}", func(r chi.Router) {
		r.Get("/", h.GetSchedule)
		r.Put("/", h.PutSchedule)
		r.Post("/events", h.AddEvent)
		r.Delete("/events", h.RemoveEvent)
	})
}

type startResponse struct {
	Outcome string         `json:"outcome"`
	Session session.Status `json:"session"`
}

type scheduleBody struct {
	Events []schedule.Event `json:"events"`
}

type removeBody struct {
	AssetRef string    `json:"asset_ref"`
	Start    time.Time `json:"start_time"`
}

// StartSession handles POST /sessions/{date}/start.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	outcome, err := h.svc.Launch(r.Context(), date)
	if err != nil {
		status := h.statusFor(err)
		h.log.Log(r.Context(), levelFor(status), "start session failed",
			slog.String("date", date), slog.String("error", err.Error()))
		writeError(w, status, err)
		return
	}

	st, _ := h.svc.Status(date)
	h.log.Info("start session", slog.String("date", date), slog.String("outcome", outcome.String()))
	writeJSON(w, http.StatusOK, startResponse{Outcome: outcome.String(), Session: st})
}

// StopSession handles POST /sessions/{date}/stop.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	st, err := h.svc.Stop(r.Context(), date)
	if err != nil {
		writeError(w, h.statusFor(err), err)
		return
	}
	h.log.Info("session stopped", slog.String("date", date))
	writeJSON(w, http.StatusOK, st)
}

// GetSession handles GET /sessions/{date}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, h.statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Sessions())
}

// GetSchedule handles GET /schedules/{date}.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	day, err := h.svc.Schedule(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, h.statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// PutSchedule handles PUT /schedules/{date}. Body: {"events": [...]}.
func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	var body scheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid schedule body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err)
		return
	}

	day := schedule.DaySchedule{Date: date, Events: body.Events}
	if err := h.svc.ReplaceSchedule(r.Context(), day); err != nil {
		writeError(w, h.statusFor(err), err)
		return
	}
	h.log.Info("schedule replaced", slog.String("date", date), slog.Int("events", len(day.Events)))
	writeJSON(w, http.StatusOK, schedule.DaySchedule{Date: date, Events: day.Sorted()})
}

// AddEvent handles POST /schedules/{date}/events.
func (h *Handler) AddEvent(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	var e schedule.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.AddEvent(r.Context(), date, e); err != nil {
		writeError(w, h.statusFor(err), err)
		return
	}
	h.log.Info("event added", slog.String("date", date), slog.String("asset_ref", e.AssetRef))
	writeJSON(w, http.StatusCreated, e)
}

// RemoveEvent handles DELETE /schedules/{date}/events.
// Body: {"asset_ref": "...", "start_time": "..."}.
func (h *Handler) RemoveEvent(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	var body removeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.RemoveEvent(r.Context(), date, body.AssetRef, body.Start); err != nil {
		writeError(w, h.statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps domain errors onto HTTP status codes.
func (h *Handler) statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrInvalidDate),
		errors.Is(err, schedule.ErrInvalidEvent),
		errors.Is(err, schedule.ErrOverlap),
		errors.Is(err, ErrFutureDate):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, schedule.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyStarting),
		errors.Is(err, schedule.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrScheduleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrSpawn),
		errors.Is(err, session.ErrStopFailed),
		errors.Is(err, timeline.ErrManifestWrite):
		return http.StatusInternalServerError
	default:
		h.log.Error("unhandled error", slog.String("error", err.Error()))
		return http.StatusInternalServerError
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status == http.StatusConflict:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
