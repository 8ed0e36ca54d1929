package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/queue-service/internal/models"
)

type CheckInInput struct {
	RequestID     string
	AppointmentID string
	OccurredAt    time.Time
}

type AdvanceInput struct {
	RequestID  string
	EntryID    string
	Target     string
	StationID  string
	OccurredAt time.Time
}

type AssignmentInput struct {
	StationID    string
	EmployeeID   string
	EmployeeName string
	StartDate    time.Time
	EndDate      *time.Time
}

// StationOverview is the admin dashboard row: one station with its staffing
// state and live queue counts.
type StationOverview struct {
	Station    models.Station     `json:"station"`
	IsOpen     bool               `json:"is_open"`
	Assignment *models.Assignment `json:"assignment,omitempty"`
	Waiting    int                `json:"waiting"`
	InProgress int                `json:"in_progress"`
}

type StationStats struct {
	QueueType          models.StationType `json:"queue_type"`
	WaitingCount       int                `json:"waiting_count"`
	InProgressCount    int                `json:"in_progress_count"`
	CompletedCount     int                `json:"completed_count"`
	AverageWaitSeconds float64            `json:"average_wait_seconds"`
}

type Statistics struct {
	Date     string         `json:"date"`
	Stations []StationStats `json:"stations"`
	Totals   StationStats   `json:"totals"`
}

type QueueEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type EventOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

type Session struct {
	SessionID string
	UserID    string
	Name      string
	Role      string
	ExpiresAt time.Time
}

type QueueStore interface {
	CheckIn(ctx context.Context, input CheckInInput) (models.QueueEntry, bool, error)
	AdvanceStatus(ctx context.Context, input AdvanceInput) (models.QueueEntry, error)
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, bool, error)
	PositionInQueue(ctx context.Context, entryID string) (int, error)

	NextForStation(ctx context.Context, stationID string, date time.Time) (models.QueueEntry, bool, error)
	CurrentForStation(ctx context.Context, stationID string, date time.Time) (models.QueueEntry, bool, error)
	StationQueue(ctx context.Context, stationID string, statuses []string, date time.Time) ([]models.QueueEntry, error)
	StationOverviews(ctx context.Context, date time.Time) ([]StationOverview, error)

	ResolveAssignment(ctx context.Context, stationID string, date time.Time) (models.Assignment, bool, error)
	CreateAssignment(ctx context.Context, input AssignmentInput) (models.Assignment, error)
	ListAssignments(ctx context.Context, stationID string, date time.Time) ([]models.Assignment, error)

	StatisticsFor(ctx context.Context, date time.Time) (Statistics, error)
	DisplayBoard(ctx context.Context, date time.Time) ([]StationDisplay, error)

	GetSetting(ctx context.Context, flag string) (bool, error)
	SetSetting(ctx context.Context, flag string, value bool) error
	ToggleSetting(ctx context.Context, flag string) (bool, error)
	ListSettings(ctx context.Context) (map[string]bool, error)

	AutoNoShow(ctx context.Context, grace time.Duration, batchSize int) (int, error)
	ListQueueEvents(ctx context.Context, after EventOffset, limit int) ([]QueueEvent, error)

	GetSession(ctx context.Context, sessionID string) (Session, error)
}

// StationDisplay is the public waiting-room board row: codes only, no
// patient identity.
type StationDisplay struct {
	QueueType   models.StationType `json:"queue_type"`
	StationName string             `json:"station_name"`
	NowServing  string             `json:"now_serving,omitempty"`
	NextCodes   []string           `json:"next_codes"`
	Waiting     int                `json:"waiting"`
}
