package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.QueueStore
}

type Options struct{}

func NewHandler(store store.QueueStore, _ Options) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queue/check-in", h.handleCheckIn)
	mux.HandleFunc("/api/queue/entries/", h.handleEntry)
	mux.HandleFunc("/api/stations/overview", h.handleStationOverview)
	mux.HandleFunc("/api/stations/", h.handleStation)
	mux.HandleFunc("/api/assignments", h.handleAssignments)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/settings/", h.handleSettingActions)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

// entryView is the wire shape of a queue entry: dates as YYYY-MM-DD strings,
// timestamps as Unix seconds.
type entryView struct {
	EntryID       string  `json:"entry_id"`
	AppointmentID string  `json:"appointment_id"`
	PatientID     string  `json:"patient_id"`
	PatientName   string  `json:"patient_name"`
	ServiceID     string  `json:"service_id"`
	QueueType     string  `json:"queue_type"`
	QueueNumber   int     `json:"queue_number"`
	Code          string  `json:"code"`
	PriorityLevel int     `json:"priority_level"`
	Status        string  `json:"status"`
	StationID     *string `json:"station_id,omitempty"`
	ServiceDate   string  `json:"service_date"`
	CreatedAt     int64   `json:"created_at"`
	TimeIn        *int64  `json:"time_in,omitempty"`
	CompletedAt   *int64  `json:"completed_at,omitempty"`
}

func viewEntry(entry models.QueueEntry) entryView {
	view := entryView{
		EntryID:       entry.EntryID,
		AppointmentID: entry.AppointmentID,
		PatientID:     entry.PatientID,
		PatientName:   entry.PatientName,
		ServiceID:     entry.ServiceID,
		QueueType:     string(entry.QueueType),
		QueueNumber:   entry.QueueNumber,
		Code:          entry.Code,
		PriorityLevel: entry.PriorityLevel,
		Status:        entry.Status,
		StationID:     entry.StationID,
		ServiceDate:   entry.ServiceDate,
		CreatedAt:     entry.CreatedAt.Unix(),
	}
	if entry.TimeIn != nil {
		t := entry.TimeIn.Unix()
		view.TimeIn = &t
	}
	if entry.CompletedAt != nil {
		t := entry.CompletedAt.Unix()
		view.CompletedAt = &t
	}
	return view
}

func viewEntries(entries []models.QueueEntry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, viewEntry(entry))
	}
	return views
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type checkInRequest struct {
	RequestID     string `json:"request_id"`
	AppointmentID string `json:"appointment_id"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, staffRoles) {
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.RequestID == "" || req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id and appointment_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.AppointmentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id and appointment_id must be UUIDs")
		return
	}

	entry, created, err := h.store.CheckIn(r.Context(), store.CheckInInput{
		RequestID:     req.RequestID,
		AppointmentID: req.AppointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	status := http.StatusOK
	message := "already checked in"
	if created {
		status = http.StatusCreated
		message = "checked in"
	}
	writeData(w, status, viewEntry(entry), message)
}

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	entryID := parts[0]
	if !isValidUUID(entryID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetEntry(w, r, entryID)
	case len(parts) == 2 && parts[1] == "position":
		h.handleEntryPosition(w, r, entryID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleEntryAction(w, r, entryID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, staffRoles) {
		return
	}

	entry, found, err := h.store.GetEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "entry_not_found", "queue entry not found")
		return
	}
	writeData(w, http.StatusOK, viewEntry(entry), "")
}

func (h *Handler) handleEntryPosition(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, staffRoles) {
		return
	}

	position, err := h.store.PositionInQueue(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"position": position}, "")
}

type entryActionRequest struct {
	RequestID string `json:"request_id"`
	StationID string `json:"station_id"`
}

// actionTargets maps URL action names onto the status each one drives the
// entry to.
var actionTargets = map[string]string{
	"arrive":   models.StatusArrived,
	"claim":    models.StatusInProgress,
	"complete": models.StatusCompleted,
	"no-show":  models.StatusNoShow,
	"cancel":   models.StatusCancelled,
}

func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request, entryID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	target, ok := actionTargets[action]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	roles := staffRoles
	if target == models.StatusInProgress || target == models.StatusCompleted {
		roles = clinicianRoles
	}
	if !requireRole(w, r, roles) {
		return
	}

	var req entryActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.StationID = strings.TrimSpace(req.StationID)
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}
	if target == models.StatusInProgress {
		if req.StationID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "station_id is required")
			return
		}
		if !isValidUUID(req.StationID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "station_id must be a UUID")
			return
		}
	}

	entry, err := h.store.AdvanceStatus(r.Context(), store.AdvanceInput{
		RequestID:  req.RequestID,
		EntryID:    entryID,
		Target:     target,
		StationID:  req.StationID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, viewEntry(entry), "")
}

func (h *Handler) handleStation(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	stationID := parts[0]
	if !isValidUUID(stationID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "station_id must be a UUID")
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, staffRoles) {
		return
	}

	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "next":
		entry, found, err := h.store.NextForStation(r.Context(), stationID, date)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeData(w, http.StatusOK, nil, "queue empty")
			return
		}
		writeData(w, http.StatusOK, viewEntry(entry), "")
	case "current":
		entry, found, err := h.store.CurrentForStation(r.Context(), stationID, date)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeData(w, http.StatusOK, nil, "no entry in progress")
			return
		}
		writeData(w, http.StatusOK, viewEntry(entry), "")
	case "queue":
		var statuses []string
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			for _, status := range strings.Split(raw, ",") {
				statuses = append(statuses, strings.TrimSpace(status))
			}
		}
		entries, err := h.store.StationQueue(r.Context(), stationID, statuses, date)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeData(w, http.StatusOK, viewEntries(entries), "")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStationOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, adminRoles) {
		return
	}

	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	overviews, err := h.store.StationOverviews(r.Context(), date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, overviews, "")
}

type createAssignmentRequest struct {
	StationID    string `json:"station_id"`
	EmployeeID   string `json:"employee_id"`
	EmployeeName string `json:"employee_name"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

func (h *Handler) handleAssignments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateAssignment(w, r)
	case http.MethodGet:
		h.handleListAssignments(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, adminRoles) {
		return
	}

	var req createAssignmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.StationID = strings.TrimSpace(req.StationID)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.EmployeeName = strings.TrimSpace(req.EmployeeName)
	req.StartDate = strings.TrimSpace(req.StartDate)
	req.EndDate = strings.TrimSpace(req.EndDate)

	if req.StationID == "" || req.EmployeeID == "" || req.StartDate == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "station_id, employee_id, and start_date are required")
		return
	}
	if !isValidUUID(req.StationID) || !isValidUUID(req.EmployeeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "station_id and employee_id must be UUIDs")
		return
	}

	startDate, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "start_date must be YYYY-MM-DD")
		return
	}
	input := store.AssignmentInput{
		StationID:    req.StationID,
		EmployeeID:   req.EmployeeID,
		EmployeeName: req.EmployeeName,
		StartDate:    startDate,
	}
	if req.EndDate != "" {
		endDate, err := time.Parse(models.DateLayout, req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end_date must be YYYY-MM-DD")
			return
		}
		if endDate.Before(startDate) {
			writeError(w, http.StatusBadRequest, "invalid_request", "end_date must not precede start_date")
			return
		}
		input.EndDate = &endDate
	}

	assignment, err := h.store.CreateAssignment(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusCreated, assignment, "assignment created")
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, adminRoles) {
		return
	}

	stationID := strings.TrimSpace(r.URL.Query().Get("station_id"))
	if stationID != "" && !isValidUUID(stationID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "station_id must be a UUID")
		return
	}

	var date time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	assignments, err := h.store.ListAssignments(r.Context(), stationID, date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, assignments, "")
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, reportingRoles) {
		return
	}

	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	stats, err := h.store.StatisticsFor(r.Context(), date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, stats, "")
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, adminRoles) {
		return
	}

	settings, err := h.store.ListSettings(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, settings, "")
}

type setSettingRequest struct {
	Value bool `json:"value"`
}

func (h *Handler) handleSettingActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/settings/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if !requireRole(w, r, adminRoles) {
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		flag := parts[0]
		var req setSettingRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		if err := h.store.SetSetting(r.Context(), flag, req.Value); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeData(w, http.StatusOK, map[string]bool{flag: req.Value}, "setting updated")
	case len(parts) == 2 && parts[1] == "toggle" && r.Method == http.MethodPost:
		flag := parts[0]
		value, err := h.store.ToggleSetting(r.Context(), flag)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeData(w, http.StatusOK, map[string]bool{flag: value}, "setting toggled")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	board, err := h.store.DisplayBoard(r.Context(), date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, board, "")
}

// eventsMaxLimit caps a single event-feed batch; pollers page instead.
const eventsMaxLimit = 500

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, staffRoles) {
		return
	}

	var after store.EventOffset
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after.LastEventTime = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("after_id")); raw != "" {
		if !isValidUUID(raw) {
			writeError(w, http.StatusBadRequest, "invalid_request", "after_id must be a UUID")
			return
		}
		after.LastEventID = raw
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if parsed > eventsMaxLimit {
			parsed = eventsMaxLimit
		}
		limit = parsed
	}

	events, err := h.store.ListQueueEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeData(w, http.StatusOK, events, "")
}

func dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return time.Now().UTC(), true
	}
	parsed, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return parsed, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found or not eligible"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrStationNotFound):
		return http.StatusNotFound, "station_not_found", "station not found"
	case errors.Is(err, store.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in", "appointment already has an active queue entry"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "entry status does not allow this action"
	case errors.Is(err, store.ErrOutOfWindow):
		return http.StatusConflict, "out_of_window", "appointment is not scheduled for today"
	case errors.Is(err, store.ErrStationClosed):
		return http.StatusConflict, "station_closed", "station has no staff assigned today"
	case errors.Is(err, store.ErrAssignmentOverlap):
		return http.StatusConflict, "assignment_overlap", "station already staffed in that period"
	case errors.Is(err, store.ErrAllocationFailed):
		return http.StatusServiceUnavailable, "allocation_failed", "could not allocate a queue number, retry"
	case errors.Is(err, store.ErrSettingUnknown):
		return http.StatusBadRequest, "unknown_setting", "unknown settings flag"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data interface{}, message string) {
	writeJSON(w, status, apiResponse{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiResponse{Success: false, Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
