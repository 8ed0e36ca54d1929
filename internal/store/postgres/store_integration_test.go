package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCheckInConcurrentAllocation(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationConsultation)

	const workers = 8
	appointments := make([]string, workers)
	for i := range appointments {
		patientID := seedPatient(t, ctx, pool, false, false)
		appointments[i] = seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())
	}

	var wg sync.WaitGroup
	results := make(chan models.QueueEntry, workers)
	errs := make(chan error, workers)
	for _, appointmentID := range appointments {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			entry, created, err := st.CheckIn(ctx, store.CheckInInput{
				RequestID:     uuid.NewString(),
				AppointmentID: id,
				OccurredAt:    time.Now().UTC(),
			})
			if err != nil {
				errs <- err
				return
			}
			if !created {
				errs <- errors.New("expected a fresh entry")
				return
			}
			results <- entry
		}(appointmentID)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("check-in error: %v", err)
	}

	var numbers []int
	seenCodes := make(map[string]bool)
	for entry := range results {
		numbers = append(numbers, entry.QueueNumber)
		if seenCodes[entry.Code] {
			t.Fatalf("duplicate code %s", entry.Code)
		}
		seenCodes[entry.Code] = true
	}
	sort.Ints(numbers)
	if len(numbers) != workers {
		t.Fatalf("expected %d entries, got %d", workers, len(numbers))
	}
	for i, number := range numbers {
		if number != i+1 {
			t.Fatalf("expected dense numbers 1..%d, got %v", workers, numbers)
		}
	}
}

func TestCheckInIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationTriage)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())

	requestID := uuid.NewString()
	first, created, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     requestID,
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	if !created {
		t.Fatalf("expected created on first check-in")
	}

	second, created, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     requestID,
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("replay check-in: %v", err)
	}
	if created {
		t.Fatalf("replay must not create a second entry")
	}
	if first.EntryID != second.EntryID || first.Code != second.Code {
		t.Fatalf("replay returned a different entry: %s vs %s", first.EntryID, second.EntryID)
	}

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_events WHERE type = 'entry.checked_in'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 entry.checked_in event, got %d", count)
	}

	var apptStatus string
	row = pool.QueryRow(ctx, `SELECT status FROM appointments WHERE appointment_id = $1`, appointmentID)
	if err := row.Scan(&apptStatus); err != nil {
		t.Fatalf("appointment status: %v", err)
	}
	if apptStatus != models.AppointmentCheckedIn {
		t.Fatalf("expected checked_in appointment, got %s", apptStatus)
	}
}

func TestCheckInDuplicateAppointment(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationLab)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())

	if _, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("first check-in: %v", err)
	}

	_, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrAlreadyCheckedIn) {
		t.Fatalf("expected ErrAlreadyCheckedIn, got %v", err)
	}
}

func TestCheckInConcurrentSameAppointment(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationLab)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := st.CheckIn(ctx, store.CheckInInput{
				RequestID:     uuid.NewString(),
				AppointmentID: appointmentID,
				OccurredAt:    time.Now().UTC(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, rejected int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrAlreadyCheckedIn):
			rejected++
		default:
			t.Fatalf("unexpected check-in error: %v", err)
		}
	}
	if created != 1 || rejected != workers-1 {
		t.Fatalf("expected one entry and %d rejections, got created=%d rejected=%d", workers-1, created, rejected)
	}

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries WHERE appointment_id = $1`, appointmentID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 entry for the appointment, got %d", count)
	}
}

func TestCheckInOutOfWindow(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationPharmacy)
	patientID := seedPatient(t, ctx, pool, false, false)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, yesterday)

	_, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrOutOfWindow) {
		t.Fatalf("expected ErrOutOfWindow, got %v", err)
	}

	if err := st.SetSetting(ctx, store.SettingIgnoreTimeConstraint, true); err != nil {
		t.Fatalf("set setting: %v", err)
	}

	entry, created, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("check-in with override: %v", err)
	}
	if !created || entry.Status != models.StatusWaiting {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestCheckInPriorityFrozen(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationConsultation)
	seniorID := seedPatient(t, ctx, pool, false, true)
	appointmentID := seedAppointment(t, ctx, pool, seniorID, serviceID, time.Now().UTC())

	entry, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if entry.PriorityLevel != models.PriorityHigh {
		t.Fatalf("expected high priority, got %d", entry.PriorityLevel)
	}

	// Flipping the flag after check-in must not move the entry.
	if _, err := pool.Exec(ctx, `UPDATE patients SET is_senior = FALSE WHERE patient_id = $1`, seniorID); err != nil {
		t.Fatalf("update patient: %v", err)
	}
	reloaded, found, err := st.GetEntry(ctx, entry.EntryID)
	if err != nil || !found {
		t.Fatalf("reload entry: found=%v err=%v", found, err)
	}
	if reloaded.PriorityLevel != models.PriorityHigh {
		t.Fatalf("priority must stay frozen, got %d", reloaded.PriorityLevel)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationConsultation)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())
	stationID := seedStation(t, ctx, pool, models.StationConsultation)
	seedAssignment(t, ctx, pool, stationID, time.Now().UTC())

	entry, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.AdvanceStatus(ctx, store.AdvanceInput{
				EntryID:    entry.EntryID,
				Target:     models.StatusInProgress,
				StationID:  stationID,
				OccurredAt: time.Now().UTC(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var winners, losers int
	for err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, store.ErrInvalidTransition):
			losers++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected exactly one winner, got winners=%d losers=%d", winners, losers)
	}

	claimed, _, err := st.GetEntry(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	if claimed.Status != models.StatusInProgress || claimed.TimeIn == nil || claimed.StationID == nil {
		t.Fatalf("unexpected claimed entry: %+v", claimed)
	}
}

func TestAdvanceStatusReplaySameRequest(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationConsultation)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())
	stationID := seedStation(t, ctx, pool, models.StationConsultation)
	seedAssignment(t, ctx, pool, stationID, time.Now().UTC())

	entry, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}

	requestID := uuid.NewString()
	first, err := st.AdvanceStatus(ctx, store.AdvanceInput{
		RequestID:  requestID,
		EntryID:    entry.EntryID,
		Target:     models.StatusInProgress,
		StationID:  stationID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Retrying the same request must replay, not lose the CAS to itself.
	second, err := st.AdvanceStatus(ctx, store.AdvanceInput{
		RequestID:  requestID,
		EntryID:    entry.EntryID,
		Target:     models.StatusInProgress,
		StationID:  stationID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("retried claim: %v", err)
	}
	if second.EntryID != first.EntryID || second.Status != models.StatusInProgress {
		t.Fatalf("replay returned a different result: %+v", second)
	}

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_events WHERE type = 'entry.claimed'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 entry.claimed event, got %d", count)
	}
}

func TestListQueueEventsEmptyCursor(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationTriage)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())

	if _, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	// A first poll carries no cursor at all; the zero offset must still bind
	// against the uuid event_id column.
	events, err := st.ListQueueEvents(ctx, store.EventOffset{}, 10)
	if err != nil {
		t.Fatalf("list events with empty cursor: %v", err)
	}
	if len(events) != 1 || events[0].Type != "entry.checked_in" {
		t.Fatalf("unexpected events: %+v", events)
	}

	// Advancing past the last event drains the feed.
	tail, err := st.ListQueueEvents(ctx, store.EventOffset{
		LastEventTime: events[0].CreatedAt,
		LastEventID:   events[0].EventID,
	}, 10)
	if err != nil {
		t.Fatalf("list events after cursor: %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("expected drained feed, got %+v", tail)
	}
}

func TestClaimRequiresStaffedStation(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationBilling)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())
	stationID := seedStation(t, ctx, pool, models.StationBilling)

	entry, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}

	_, err = st.AdvanceStatus(ctx, store.AdvanceInput{
		EntryID:    entry.EntryID,
		Target:     models.StatusInProgress,
		StationID:  stationID,
		OccurredAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrStationClosed) {
		t.Fatalf("expected ErrStationClosed, got %v", err)
	}

	// force_all_stations_open is a display state and never authorizes a claim.
	if _, err := st.ToggleSetting(ctx, store.SettingForceStationsOpen); err != nil {
		t.Fatalf("toggle setting: %v", err)
	}
	_, err = st.AdvanceStatus(ctx, store.AdvanceInput{
		EntryID:    entry.EntryID,
		Target:     models.StatusInProgress,
		StationID:  stationID,
		OccurredAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrStationClosed) {
		t.Fatalf("force-open must not allow a claim, got %v", err)
	}

	if _, err := st.ToggleSetting(ctx, store.SettingQueueOverrideMode); err != nil {
		t.Fatalf("toggle setting: %v", err)
	}

	claimed, err := st.AdvanceStatus(ctx, store.AdvanceInput{
		EntryID:    entry.EntryID,
		Target:     models.StatusInProgress,
		StationID:  stationID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("claim with override: %v", err)
	}
	if claimed.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", claimed.Status)
	}
}

func TestPositionInQueuePriorityOrder(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationConsultation)

	// Arrival order A(regular), B(pwd), C(regular), D(senior).
	flags := []struct {
		pwd    bool
		senior bool
	}{
		{false, false},
		{true, false},
		{false, false},
		{false, true},
	}
	entries := make([]models.QueueEntry, 0, len(flags))
	for _, f := range flags {
		patientID := seedPatient(t, ctx, pool, f.pwd, f.senior)
		appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())
		entry, _, err := st.CheckIn(ctx, store.CheckInInput{
			RequestID:     uuid.NewString(),
			AppointmentID: appointmentID,
			OccurredAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("check-in: %v", err)
		}
		entries = append(entries, entry)
	}

	wantPositions := []int{3, 1, 4, 2}
	for i, entry := range entries {
		position, err := st.PositionInQueue(ctx, entry.EntryID)
		if err != nil {
			t.Fatalf("position for %s: %v", entry.Code, err)
		}
		if position != wantPositions[i] {
			t.Fatalf("entry %s: position=%d, want %d", entry.Code, position, wantPositions[i])
		}
	}
}

func TestAssignmentOverlapRejected(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	stationID := seedStation(t, ctx, pool, models.StationTriage)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 4)
	if _, err := st.CreateAssignment(ctx, store.AssignmentInput{
		StationID:    stationID,
		EmployeeID:   uuid.NewString(),
		EmployeeName: "Nurse A",
		StartDate:    start,
		EndDate:      &end,
	}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	overlapStart := start.AddDate(0, 0, 2)
	_, err := st.CreateAssignment(ctx, store.AssignmentInput{
		StationID:    stationID,
		EmployeeID:   uuid.NewString(),
		EmployeeName: "Nurse B",
		StartDate:    overlapStart,
	})
	if !errors.Is(err, store.ErrAssignmentOverlap) {
		t.Fatalf("expected ErrAssignmentOverlap, got %v", err)
	}

	afterStart := end.AddDate(0, 0, 1)
	if _, err := st.CreateAssignment(ctx, store.AssignmentInput{
		StationID:    stationID,
		EmployeeID:   uuid.NewString(),
		EmployeeName: "Nurse B",
		StartDate:    afterStart,
	}); err != nil {
		t.Fatalf("non-overlapping assignment rejected: %v", err)
	}
}

func TestAutoNoShowSweep(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationDocument)
	patientID := seedPatient(t, ctx, pool, false, false)
	appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())

	entry, _, err := st.CheckIn(ctx, store.CheckInInput{
		RequestID:     uuid.NewString(),
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}

	if _, err := pool.Exec(ctx, `
		UPDATE queue_entries SET created_at = $1 WHERE entry_id = $2
	`, time.Now().UTC().Add(-2*time.Hour), entry.EntryID); err != nil {
		t.Fatalf("age entry: %v", err)
	}

	count, err := st.AutoNoShow(ctx, time.Hour, 50)
	if err != nil {
		t.Fatalf("auto no-show: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 processed entry, got %d", count)
	}

	swept, _, err := st.GetEntry(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	if swept.Status != models.StatusNoShow {
		t.Fatalf("expected no_show, got %s", swept.Status)
	}
}

func TestStatisticsFor(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, models.StationConsultation)
	stationID := seedStation(t, ctx, pool, models.StationConsultation)
	seedAssignment(t, ctx, pool, stationID, time.Now().UTC())

	for i := 0; i < 3; i++ {
		patientID := seedPatient(t, ctx, pool, false, false)
		appointmentID := seedAppointment(t, ctx, pool, patientID, serviceID, time.Now().UTC())
		entry, _, err := st.CheckIn(ctx, store.CheckInInput{
			RequestID:     uuid.NewString(),
			AppointmentID: appointmentID,
			OccurredAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("check-in: %v", err)
		}
		if i == 0 {
			if _, err := st.AdvanceStatus(ctx, store.AdvanceInput{
				EntryID:    entry.EntryID,
				Target:     models.StatusInProgress,
				StationID:  stationID,
				OccurredAt: time.Now().UTC(),
			}); err != nil {
				t.Fatalf("claim: %v", err)
			}
			if _, err := st.AdvanceStatus(ctx, store.AdvanceInput{
				EntryID:    entry.EntryID,
				Target:     models.StatusCompleted,
				OccurredAt: time.Now().UTC(),
			}); err != nil {
				t.Fatalf("complete: %v", err)
			}
		}
	}

	stats, err := st.StatisticsFor(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if len(stats.Stations) != len(models.AllStationTypes()) {
		t.Fatalf("expected a row per station type, got %d", len(stats.Stations))
	}
	var consultation store.StationStats
	for _, row := range stats.Stations {
		if row.QueueType == models.StationConsultation {
			consultation = row
		}
	}
	if consultation.WaitingCount != 2 || consultation.CompletedCount != 1 {
		t.Fatalf("unexpected consultation stats: %+v", consultation)
	}
	if stats.Totals.WaitingCount != 2 || stats.Totals.CompletedCount != 1 {
		t.Fatalf("unexpected totals: %+v", stats.Totals)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedPatient(t *testing.T, ctx context.Context, pool *pgxpool.Pool, isPWD, isSenior bool) string {
	t.Helper()
	patientID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO patients (patient_id, name, is_pwd, is_senior) VALUES ($1, 'Patient', $2, $3)
	`, patientID, isPWD, isSenior); err != nil {
		t.Fatalf("insert patient: %v", err)
	}
	return patientID
}

func seedService(t *testing.T, ctx context.Context, pool *pgxpool.Pool, stationType models.StationType) string {
	t.Helper()
	serviceID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (service_id, name, station_type, active) VALUES ($1, 'Service', $2, TRUE)
	`, serviceID, string(stationType)); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	return serviceID
}

func seedAppointment(t *testing.T, ctx context.Context, pool *pgxpool.Pool, patientID, serviceID string, scheduledAt time.Time) string {
	t.Helper()
	appointmentID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO appointments (appointment_id, patient_id, service_id, status, scheduled_at)
		VALUES ($1, $2, $3, 'scheduled', $4)
	`, appointmentID, patientID, serviceID, scheduledAt); err != nil {
		t.Fatalf("insert appointment: %v", err)
	}
	return appointmentID
}

func seedStation(t *testing.T, ctx context.Context, pool *pgxpool.Pool, stationType models.StationType) string {
	t.Helper()
	stationID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO stations (station_id, name, station_type, is_active) VALUES ($1, 'Station', $2, TRUE)
	`, stationID, string(stationType)); err != nil {
		t.Fatalf("insert station: %v", err)
	}
	return stationID
}

func seedAssignment(t *testing.T, ctx context.Context, pool *pgxpool.Pool, stationID string, day time.Time) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO assignment_schedules (schedule_id, station_id, employee_id, employee_name, start_date, end_date, is_active, created_at)
		VALUES ($1, $2, $3, 'Nurse', $4::date, NULL, TRUE, now())
	`, uuid.NewString(), stationID, uuid.NewString(), day.UTC().Format(models.DateLayout)); err != nil {
		t.Fatalf("insert assignment: %v", err)
	}
}
