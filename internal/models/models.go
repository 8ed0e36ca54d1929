package models

import "time"

type Patient struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	IsPWD     bool   `json:"is_pwd"`
	IsSenior  bool   `json:"is_senior"`
}

type Appointment struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	ServiceID     string    `json:"service_id"`
	Status        string    `json:"status"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

type Service struct {
	ServiceID   string      `json:"service_id"`
	Name        string      `json:"name"`
	StationType StationType `json:"station_type"`
	Active      bool        `json:"active"`
}

type Station struct {
	StationID   string      `json:"station_id"`
	Name        string      `json:"name"`
	StationType StationType `json:"station_type"`
	IsActive    bool        `json:"is_active"`
}

// Assignment is a resolved staffing window: who is at a station between
// StartDate and EndDate (nil = open ended).
type Assignment struct {
	ScheduleID   string     `json:"schedule_id"`
	StationID    string     `json:"station_id"`
	EmployeeID   string     `json:"employee_id"`
	EmployeeName string     `json:"employee_name"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
}

type QueueEntry struct {
	EntryID       string      `json:"entry_id"`
	AppointmentID string      `json:"appointment_id"`
	PatientID     string      `json:"patient_id"`
	PatientName   string      `json:"patient_name,omitempty"`
	ServiceID     string      `json:"service_id"`
	QueueType     StationType `json:"queue_type"`
	QueueNumber   int         `json:"queue_number"`
	Code          string      `json:"code"`
	PriorityLevel int         `json:"priority_level"`
	Status        string      `json:"status"`
	StationID     *string     `json:"station_id,omitempty"`
	ServiceDate   string      `json:"service_date"`
	CreatedAt     time.Time   `json:"created_at"`
	TimeIn        *time.Time  `json:"time_in,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusArrived    = "arrived"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusNoShow     = "no_show"
	StatusCancelled  = "cancelled"
)

const (
	AppointmentScheduled = "scheduled"
	AppointmentCheckedIn = "checked_in"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// DateLayout is the wire format for business dates.
const DateLayout = "2006-01-02"
