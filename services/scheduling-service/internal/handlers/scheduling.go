package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/engine"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type SchedulingHandler struct {
	engine *engine.Engine
	logger *slog.Logger
	loc    *time.Location
}

func NewSchedulingHandler(eng *engine.Engine, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{engine: eng, logger: logger, loc: eng.Location()}
}

// Register mounts the API routes on mux.
func (h *SchedulingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/availability", h.Availability)
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/appointments/{id}", h.GetAppointment)
	mux.HandleFunc("/api/v1/appointments/{id}/status", h.SetStatus)
	mux.HandleFunc("/api/v1/schedules", h.Schedules)
}

type slotItem struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Occupied bool   `json:"occupied"`
}

type availabilityResponse struct {
	ProfessionalID  string     `json:"professional_id"`
	Date            string     `json:"date"`
	DurationMinutes int        `json:"duration_minutes"`
	Slots           []slotItem `json:"slots"`
}

type bookRequest struct {
	ProfessionalID   string  `json:"professional_id"`
	PatientID        string  `json:"patient_id"`
	StartTime        string  `json:"start_time"`
	DurationMinutes  int     `json:"duration_minutes"`
	ConsultationKind string  `json:"consultation_kind"`
	InsurerID        *string `json:"insurer_id"`
	Reason           string  `json:"reason"`
	Notes            string  `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type cancellationItem struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
	CancelledAt string `json:"cancelled_at"`
}

type appointmentItem struct {
	ID               string            `json:"id"`
	ProfessionalID   string            `json:"professional_id"`
	PatientID        string            `json:"patient_id"`
	StartTime        string            `json:"start_time"`
	EndTime          string            `json:"end_time"`
	DurationMinutes  int               `json:"duration_minutes"`
	Status           string            `json:"status"`
	ConsultationKind string            `json:"consultation_kind"`
	InsurerID        *string           `json:"insurer_id,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
	Cancellation     *cancellationItem `json:"cancellation,omitempty"`
}

type scheduleRequest struct {
	ProfessionalID string `json:"professional_id"`
	Weekday        *int   `json:"weekday"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	IsActive       bool   `json:"is_active"`
}

type scheduleItem struct {
	ProfessionalID string `json:"professional_id"`
	Weekday        int    `json:"weekday"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	IsActive       bool   `json:"is_active"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

func (h *SchedulingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	professionalID := strings.TrimSpace(q.Get("professional_id"))
	date, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(q.Get("date")), h.loc)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	duration := 0
	if raw := strings.TrimSpace(q.Get("duration_minutes")); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil || duration <= 0 {
			badRequest(w, "duration_minutes must be a positive integer")
			return
		}
	}

	slots, err := h.engine.Availability(r.Context(), professionalID, date, duration)
	if err != nil {
		writeError(w, h.logger, h.loc, err)
		return
	}
	if duration == 0 {
		duration = h.engine.Policy().MinDurationMinutes
	}

	resp := availabilityResponse{
		ProfessionalID:  professionalID,
		Date:            date.Format(time.DateOnly),
		DurationMinutes: duration,
		Slots:           make([]slotItem, 0, len(slots)),
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, h.slotJSON(s))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Appointments books on POST and lists a professional's day on GET.
func (h *SchedulingHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.book(w, r)
	case http.MethodGet:
		h.listDay(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SchedulingHandler) book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	start, err := h.parseStart(req.StartTime)
	if err != nil {
		badRequest(w, "start_time must be RFC 3339 or YYYY-MM-DDTHH:MM local time")
		return
	}
	kind, err := model.ParseConsultationKind(req.ConsultationKind)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	appt, err := h.engine.Book(r.Context(), engine.BookRequest{
		ProfessionalID:   req.ProfessionalID,
		PatientID:        req.PatientID,
		Start:            start,
		DurationMinutes:  req.DurationMinutes,
		ConsultationKind: kind,
		InsurerID:        req.InsurerID,
		Reason:           strings.TrimSpace(req.Reason),
		Notes:            strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeError(w, h.logger, h.loc, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, h.appointmentJSON(appt))
}

func (h *SchedulingHandler) listDay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(q.Get("date")), h.loc)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	appts, err := h.engine.ListDay(r.Context(), q.Get("professional_id"), date)
	if err != nil {
		writeError(w, h.logger, h.loc, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, h.appointmentJSON(a))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *SchedulingHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	appt, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, h.loc, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.appointmentJSON(appt))
}

func (h *SchedulingHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	appt, err := h.engine.SetStatus(r.Context(), engine.StatusRequest{
		AppointmentID: r.PathValue("id"),
		Status:        status,
		Actor:         req.Actor,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, h.logger, h.loc, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.appointmentJSON(appt))
}

// Schedules lists a professional's week on GET and upserts one weekday on PUT.
func (h *SchedulingHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := h.engine.ListSchedule(r.Context(), r.URL.Query().Get("professional_id"))
		if err != nil {
			writeError(w, h.logger, h.loc, err)
			return
		}
		items := make([]scheduleItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, h.scheduleJSON(e))
		}
		httpx.WriteJSON(w, http.StatusOK, items)
	case http.MethodPut:
		var req scheduleRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if req.Weekday == nil {
			badRequest(w, "weekday is required")
			return
		}
		entry := model.WeeklyScheduleEntry{
			ProfessionalID: req.ProfessionalID,
			Weekday:        time.Weekday(*req.Weekday),
			IsActive:       req.IsActive,
		}
		if req.IsActive || req.StartTime != "" || req.EndTime != "" {
			start, err := config.ParseClock(req.StartTime)
			if err != nil {
				badRequest(w, "start_time: "+err.Error())
				return
			}
			end, err := config.ParseClock(req.EndTime)
			if err != nil {
				badRequest(w, "end_time: "+err.Error())
				return
			}
			entry.StartMinute, entry.EndMinute = start, end
		}
		saved, err := h.engine.UpsertSchedule(r.Context(), entry)
		if err != nil {
			writeError(w, h.logger, h.loc, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, h.scheduleJSON(saved))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// parseStart accepts RFC 3339 or a local wall-clock time without offset.
func (h *SchedulingHandler) parseStart(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(h.loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, h.loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04", raw, h.loc)
}

func (h *SchedulingHandler) slotJSON(s availability.Slot) slotItem {
	return slotItem{
		Start:    s.Start.In(h.loc).Format(time.RFC3339),
		End:      s.End.In(h.loc).Format(time.RFC3339),
		Occupied: s.Occupied,
	}
}

func (h *SchedulingHandler) appointmentJSON(a model.Appointment) appointmentItem {
	item := appointmentItem{
		ID:               a.ID,
		ProfessionalID:   a.ProfessionalID,
		PatientID:        a.PatientID,
		StartTime:        a.StartTime.In(h.loc).Format(time.RFC3339),
		EndTime:          a.EndTime().In(h.loc).Format(time.RFC3339),
		DurationMinutes:  a.DurationMinutes,
		Status:           string(a.Status),
		ConsultationKind: string(a.ConsultationKind),
		InsurerID:        a.InsurerID,
		Reason:           a.Reason,
		Notes:            a.Notes,
		CreatedAt:        a.CreatedAt.In(h.loc).Format(time.RFC3339),
		UpdatedAt:        a.UpdatedAt.In(h.loc).Format(time.RFC3339),
	}
	if c := a.Cancellation; c != nil {
		item.Cancellation = &cancellationItem{
			Reason:      c.Reason,
			CancelledBy: c.CancelledBy,
			CancelledAt: c.CancelledAt.In(h.loc).Format(time.RFC3339),
		}
	}
	return item
}

func (h *SchedulingHandler) scheduleJSON(e model.WeeklyScheduleEntry) scheduleItem {
	item := scheduleItem{
		ProfessionalID: e.ProfessionalID,
		Weekday:        int(e.Weekday),
		StartTime:      clock(e.StartMinute),
		EndTime:        clock(e.EndMinute),
		IsActive:       e.IsActive,
	}
	if !e.UpdatedAt.IsZero() {
		item.UpdatedAt = e.UpdatedAt.In(h.loc).Format(time.RFC3339)
	}
	return item
}

func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
