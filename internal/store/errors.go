package store

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrEntryNotFound       = errors.New("queue entry not found")
	ErrStationNotFound     = errors.New("station not found")
	ErrAlreadyCheckedIn    = errors.New("appointment already checked in")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrOutOfWindow         = errors.New("appointment outside check-in window")
	ErrAllocationFailed    = errors.New("queue number allocation failed")
	ErrStationClosed       = errors.New("station has no active assignment")
	ErrAssignmentOverlap   = errors.New("assignment window overlaps an active schedule")
	ErrSettingUnknown      = errors.New("unknown settings flag")
	ErrSessionNotFound     = errors.New("session not found")
)
