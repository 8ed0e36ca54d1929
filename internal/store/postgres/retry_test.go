package postgres

import (
	"errors"
	"testing"

	"clinicq/queue-service/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"number collision", &pgconn.PgError{Code: "23505", ConstraintName: "queue_entries_queue_type_service_date_queue_number_key"}, true},
		{"other unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "queue_entries_request_id_key"}, false},
		{"not null violation", &pgconn.PgError{Code: "23502"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range cases {
		if got := isTransient(tt.err); got != tt.want {
			t.Fatalf("%s: isTransient=%v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsActiveEntryConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"active entry index", &pgconn.PgError{Code: "23505", ConstraintName: "queue_entries_active_appointment_idx"}, true},
		{"number collision", &pgconn.PgError{Code: "23505", ConstraintName: "queue_entries_queue_type_service_date_queue_number_key"}, false},
		{"not a unique violation", &pgconn.PgError{Code: "40001"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range cases {
		if got := isActiveEntryConflict(tt.err); got != tt.want {
			t.Fatalf("%s: isActiveEntryConflict=%v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEventTypeFor(t *testing.T) {
	cases := map[string]string{
		models.StatusArrived:    "entry.arrived",
		models.StatusInProgress: "entry.claimed",
		models.StatusCompleted:  "entry.completed",
		models.StatusNoShow:     "entry.no_show",
		models.StatusCancelled:  "entry.cancelled",
		"other":                 "entry.updated",
	}
	for status, want := range cases {
		if got := eventTypeFor(status); got != want {
			t.Fatalf("eventTypeFor(%q)=%q, want %q", status, got, want)
		}
	}
}
