package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	allocationAttempts = 3
	allocationBackoff  = 25 * time.Millisecond
)

type Store struct {
	pool *pgxpool.Pool
}

type Options struct{}

func NewStore(pool *pgxpool.Pool, _ Options) *Store {
	return &Store{pool: pool}
}

const entryColumns = `
	e.entry_id, e.appointment_id, e.patient_id, p.name, e.service_id,
	e.queue_type, e.queue_number, e.code, e.priority_level, e.status,
	e.station_id, e.service_date::text, e.created_at, e.time_in, e.completed_at`

// CheckIn converts a scheduled appointment into a waiting queue entry. The
// whole operation runs in one transaction; a commit failure after number
// allocation burns the number, it is never handed out again for the scope.
// Transient serialization conflicts on the allocation path are retried a
// bounded number of times before surfacing ErrAllocationFailed.
func (s *Store) CheckIn(ctx context.Context, input store.CheckInInput) (models.QueueEntry, bool, error) {
	var lastErr error
	for attempt := 0; attempt < allocationAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.QueueEntry{}, false, ctx.Err()
			case <-time.After(allocationBackoff << uint(attempt-1)):
			}
		}
		entry, created, err := s.checkInOnce(ctx, input)
		if err == nil {
			return entry, created, nil
		}
		if !isTransient(err) {
			return models.QueueEntry{}, false, err
		}
		lastErr = err
	}
	return models.QueueEntry{}, false, fmt.Errorf("%w: %v", store.ErrAllocationFailed, lastErr)
}

func (s *Store) checkInOnce(ctx context.Context, input store.CheckInInput) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findEntryByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.QueueEntry{}, false, err
		}
		return existing, false, nil
	}

	var (
		patientID   string
		serviceID   string
		apptStatus  string
		scheduledAt time.Time
		stationType string
		patientName string
		isPWD       bool
		isSenior    bool
	)
	row := tx.QueryRow(ctx, `
		SELECT a.patient_id, a.service_id, a.status, a.scheduled_at, s.station_type, p.name, p.is_pwd, p.is_senior
		FROM appointments a
		JOIN services s ON s.service_id = a.service_id
		JOIN patients p ON p.patient_id = a.patient_id
		WHERE a.appointment_id = $1
	`, input.AppointmentID)
	if err = row.Scan(&patientID, &serviceID, &apptStatus, &scheduledAt, &stationType, &patientName, &isPWD, &isSenior); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrAppointmentNotFound
		}
		return models.QueueEntry{}, false, err
	}

	testingMode, err := getSettingTx(ctx, tx, store.SettingTestingMode)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if !testingMode && apptStatus != models.AppointmentScheduled && apptStatus != models.AppointmentCheckedIn {
		err = store.ErrAppointmentNotFound
		return models.QueueEntry{}, false, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	serviceDate := occurredAt.UTC().Format(models.DateLayout)

	ignoreWindow, err := getSettingTx(ctx, tx, store.SettingIgnoreTimeConstraint)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if !ignoreWindow && scheduledAt.UTC().Format(models.DateLayout) != serviceDate {
		err = store.ErrOutOfWindow
		return models.QueueEntry{}, false, err
	}

	var hasActive bool
	row = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM queue_entries
			WHERE appointment_id = $1 AND status IN ('waiting', 'arrived', 'in_progress')
		)
	`, input.AppointmentID)
	if err = row.Scan(&hasActive); err != nil {
		return models.QueueEntry{}, false, err
	}
	if hasActive {
		err = store.ErrAlreadyCheckedIn
		return models.QueueEntry{}, false, err
	}

	queueType, err := models.ParseStationType(stationType)
	if err != nil {
		return models.QueueEntry{}, false, err
	}

	number, err := nextQueueNumber(ctx, tx, queueType, serviceDate)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	code, err := models.FormatCode(queueType, number)
	if err != nil {
		return models.QueueEntry{}, false, err
	}

	entry := models.QueueEntry{
		EntryID:       uuid.NewString(),
		AppointmentID: input.AppointmentID,
		PatientID:     patientID,
		PatientName:   patientName,
		ServiceID:     serviceID,
		QueueType:     queueType,
		QueueNumber:   number,
		Code:          code,
		PriorityLevel: models.PriorityFor(models.Patient{IsPWD: isPWD, IsSenior: isSenior}),
		Status:        models.StatusWaiting,
		ServiceDate:   serviceDate,
		CreatedAt:     occurredAt,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_entries (
			entry_id, request_id, appointment_id, patient_id, service_id,
			queue_type, queue_number, code, priority_level, status, service_date, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.EntryID, nullIfEmpty(input.RequestID), entry.AppointmentID, entry.PatientID, entry.ServiceID,
		string(entry.QueueType), entry.QueueNumber, entry.Code, entry.PriorityLevel, entry.Status, entry.ServiceDate, entry.CreatedAt)
	if err != nil {
		// A racing check-in for the same appointment can slip past the
		// EXISTS check above and lose to the partial unique index instead.
		if isActiveEntryConflict(err) {
			err = store.ErrAlreadyCheckedIn
		}
		return models.QueueEntry{}, false, err
	}

	if apptStatus == models.AppointmentScheduled {
		if _, err = tx.Exec(ctx, `
			UPDATE appointments
			SET status = 'checked_in'
			WHERE appointment_id = $1
		`, input.AppointmentID); err != nil {
			return models.QueueEntry{}, false, err
		}
	}

	if err = insertQueueEvent(ctx, tx, "entry.checked_in", input.RequestID, entry); err != nil {
		return models.QueueEntry{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

// AdvanceStatus moves an entry forward in its lifecycle with a
// compare-and-set on the current status: the update only matches rows still
// in a status that may legally precede the target, so the loser of a
// concurrent claim race observes ErrInvalidTransition and re-peeks. A
// request id already recorded on an emitted event replays the earlier
// outcome instead of re-running the compare-and-set.
func (s *Store) AdvanceStatus(ctx context.Context, input store.AdvanceInput) (models.QueueEntry, error) {
	if !store.KnownStatus(input.Target) || input.Target == models.StatusWaiting {
		return models.QueueEntry{}, store.ErrInvalidTransition
	}
	prior := store.AllowedPriorStatuses(input.Target)
	if len(prior) == 0 {
		return models.QueueEntry{}, store.ErrInvalidTransition
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	replayed, found, err := findEntryByActionRequest(ctx, tx, input.RequestID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.QueueEntry{}, err
		}
		return replayed, nil
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if input.Target == models.StatusInProgress {
		if err = s.ensureStationOpen(ctx, tx, input.StationID, occurredAt); err != nil {
			return models.QueueEntry{}, err
		}
	}

	updateQuery := `
		UPDATE queue_entries e
		SET status = $1`
	args := []interface{}{input.Target}
	argPos := 2

	switch input.Target {
	case models.StatusInProgress:
		updateQuery += fmt.Sprintf(", time_in = COALESCE(e.time_in, $%d), station_id = $%d", argPos, argPos+1)
		args = append(args, occurredAt, input.StationID)
		argPos += 2
	case models.StatusCompleted:
		updateQuery += fmt.Sprintf(", completed_at = $%d", argPos)
		args = append(args, occurredAt)
		argPos++
	}

	updateQuery += fmt.Sprintf(`
		FROM patients p
		WHERE e.entry_id = $%d AND p.patient_id = e.patient_id AND e.status = ANY($%d)
		RETURNING `+entryColumns, argPos, argPos+1)
	args = append(args, input.EntryID, prior)

	entry, err := scanEntry(tx.QueryRow(ctx, updateQuery, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_entries WHERE entry_id = $1)`, input.EntryID)
			if err = row.Scan(&exists); err != nil {
				return models.QueueEntry{}, err
			}
			if !exists {
				err = store.ErrEntryNotFound
				return models.QueueEntry{}, err
			}
			err = store.ErrInvalidTransition
			return models.QueueEntry{}, err
		}
		return models.QueueEntry{}, err
	}

	if err = insertQueueEvent(ctx, tx, eventTypeFor(input.Target), input.RequestID, entry); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// ensureStationOpen gates a claim on the station being staffed for the day.
// Only queue_override_mode bypasses staffing; force_all_stations_open is a
// display state and never authorizes a claim.
func (s *Store) ensureStationOpen(ctx context.Context, tx pgx.Tx, stationID string, at time.Time) error {
	if stationID == "" {
		return store.ErrStationNotFound
	}
	var stationType string
	row := tx.QueryRow(ctx, `
		SELECT station_type
		FROM stations
		WHERE station_id = $1 AND is_active = TRUE
	`, stationID)
	if err := row.Scan(&stationType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrStationNotFound
		}
		return err
	}

	override, err := getSettingTx(ctx, tx, store.SettingQueueOverrideMode)
	if err != nil {
		return err
	}
	if override {
		return nil
	}

	var staffed bool
	row = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM assignment_schedules
			WHERE station_id = $1 AND is_active = TRUE
				AND start_date <= $2::date
				AND (end_date IS NULL OR end_date >= $2::date)
		)
	`, stationID, at.UTC().Format(models.DateLayout))
	if err := row.Scan(&staffed); err != nil {
		return err
	}
	if !staffed {
		return store.ErrStationClosed
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, bool, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries e
		JOIN patients p ON p.patient_id = e.patient_id
		WHERE e.entry_id = $1
	`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

// PositionInQueue counts the pending entries that sort strictly before the
// given one under the (priority desc, queue number asc) order, plus one.
// Entries no longer pending report position 0.
func (s *Store) PositionInQueue(ctx context.Context, entryID string) (int, error) {
	entry, found, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, store.ErrEntryNotFound
	}
	if entry.Status != models.StatusWaiting && entry.Status != models.StatusArrived {
		return 0, nil
	}

	var ahead int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE queue_type = $1 AND service_date = $2::date
			AND status IN ('waiting', 'arrived')
			AND (priority_level > $3 OR (priority_level = $3 AND queue_number < $4))
	`, string(entry.QueueType), entry.ServiceDate, entry.PriorityLevel, entry.QueueNumber)
	if err := row.Scan(&ahead); err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// NextForStation is a pure peek: it never locks or claims the entry it
// returns. Claiming is a separate AdvanceStatus call.
func (s *Store) NextForStation(ctx context.Context, stationID string, date time.Time) (models.QueueEntry, bool, error) {
	station, err := s.getStation(ctx, stationID)
	if err != nil {
		return models.QueueEntry{}, false, err
	}

	_, staffed, err := s.ResolveAssignment(ctx, stationID, date)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if !staffed {
		forceOpen, err := s.GetSetting(ctx, store.SettingForceStationsOpen)
		if err != nil {
			return models.QueueEntry{}, false, err
		}
		if !forceOpen {
			return models.QueueEntry{}, false, store.ErrStationClosed
		}
	}

	entry, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries e
		JOIN patients p ON p.patient_id = e.patient_id
		WHERE e.queue_type = $1 AND e.service_date = $2::date
			AND e.status IN ('waiting', 'arrived')
		ORDER BY e.priority_level DESC, e.queue_number ASC
		LIMIT 1
	`, string(station.StationType), date.UTC().Format(models.DateLayout)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) CurrentForStation(ctx context.Context, stationID string, date time.Time) (models.QueueEntry, bool, error) {
	if _, err := s.getStation(ctx, stationID); err != nil {
		return models.QueueEntry{}, false, err
	}
	entry, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries e
		JOIN patients p ON p.patient_id = e.patient_id
		WHERE e.station_id = $1 AND e.service_date = $2::date AND e.status = 'in_progress'
		ORDER BY e.time_in DESC
		LIMIT 1
	`, stationID, date.UTC().Format(models.DateLayout)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) StationQueue(ctx context.Context, stationID string, statuses []string, date time.Time) ([]models.QueueEntry, error) {
	station, err := s.getStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		statuses = []string{models.StatusWaiting, models.StatusArrived}
	}
	for _, status := range statuses {
		if !store.KnownStatus(status) {
			return nil, fmt.Errorf("unknown status %q", status)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries e
		JOIN patients p ON p.patient_id = e.patient_id
		WHERE e.queue_type = $1 AND e.service_date = $2::date AND e.status = ANY($3)
		ORDER BY e.priority_level DESC, e.queue_number ASC
	`, string(station.StationType), date.UTC().Format(models.DateLayout), statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) StationOverviews(ctx context.Context, date time.Time) ([]store.StationOverview, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT station_id, name, station_type, is_active
		FROM stations
		WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, err
	}
	stations, err := collectStations(rows)
	if err != nil {
		return nil, err
	}

	counts, err := s.pendingCounts(ctx, date)
	if err != nil {
		return nil, err
	}

	forceOpen, err := s.GetSetting(ctx, store.SettingForceStationsOpen)
	if err != nil {
		return nil, err
	}

	overviews := make([]store.StationOverview, 0, len(stations))
	for _, station := range stations {
		overview := store.StationOverview{Station: station}
		assignment, staffed, err := s.ResolveAssignment(ctx, station.StationID, date)
		if err != nil {
			return nil, err
		}
		if staffed {
			overview.IsOpen = true
			a := assignment
			overview.Assignment = &a
		} else if forceOpen {
			overview.IsOpen = true
		}
		if c, ok := counts[station.StationType]; ok {
			overview.Waiting = c.waiting
			overview.InProgress = c.inProgress
		}
		overviews = append(overviews, overview)
	}

	sort.SliceStable(overviews, func(i, j int) bool {
		a, b := overviews[i].Station, overviews[j].Station
		if a.StationType != b.StationType {
			return a.StationType.Order() < b.StationType.Order()
		}
		return a.Name < b.Name
	})
	return overviews, nil
}

type pendingCount struct {
	waiting    int
	inProgress int
}

func (s *Store) pendingCounts(ctx context.Context, date time.Time) (map[models.StationType]pendingCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue_type,
			SUM(CASE WHEN status IN ('waiting', 'arrived') THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END)
		FROM queue_entries
		WHERE service_date = $1::date
		GROUP BY queue_type
	`, date.UTC().Format(models.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.StationType]pendingCount)
	for rows.Next() {
		var queueType string
		var c pendingCount
		if err := rows.Scan(&queueType, &c.waiting, &c.inProgress); err != nil {
			return nil, err
		}
		counts[models.StationType(queueType)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// ResolveAssignment returns the staffing window covering date for the
// station. Overlaps are rejected at write time; if legacy data still holds
// two covering windows, the most recently created one wins.
func (s *Store) ResolveAssignment(ctx context.Context, stationID string, date time.Time) (models.Assignment, bool, error) {
	assignment, err := scanAssignment(s.pool.QueryRow(ctx, `
		SELECT schedule_id, station_id, employee_id, employee_name, start_date, end_date, is_active, created_at
		FROM assignment_schedules
		WHERE station_id = $1 AND is_active = TRUE
			AND start_date <= $2::date
			AND (end_date IS NULL OR end_date >= $2::date)
		ORDER BY created_at DESC
		LIMIT 1
	`, stationID, date.UTC().Format(models.DateLayout)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Assignment{}, false, nil
		}
		return models.Assignment{}, false, err
	}
	return assignment, true, nil
}

func (s *Store) CreateAssignment(ctx context.Context, input store.AssignmentInput) (models.Assignment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Assignment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM stations WHERE station_id = $1 AND is_active = TRUE)
	`, input.StationID)
	if err = row.Scan(&exists); err != nil {
		return models.Assignment{}, err
	}
	if !exists {
		err = store.ErrStationNotFound
		return models.Assignment{}, err
	}

	startDate := input.StartDate.UTC().Format(models.DateLayout)
	var endDate interface{}
	if input.EndDate != nil {
		endDate = input.EndDate.UTC().Format(models.DateLayout)
	}

	var overlaps bool
	row = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM assignment_schedules
			WHERE station_id = $1 AND is_active = TRUE
				AND ($3::date IS NULL OR start_date <= $3::date)
				AND (end_date IS NULL OR end_date >= $2::date)
		)
	`, input.StationID, startDate, endDate)
	if err = row.Scan(&overlaps); err != nil {
		return models.Assignment{}, err
	}
	if overlaps {
		err = store.ErrAssignmentOverlap
		return models.Assignment{}, err
	}

	assignment, err := scanAssignment(tx.QueryRow(ctx, `
		INSERT INTO assignment_schedules (schedule_id, station_id, employee_id, employee_name, start_date, end_date, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5::date, $6::date, TRUE, $7)
		RETURNING schedule_id, station_id, employee_id, employee_name, start_date, end_date, is_active, created_at
	`, uuid.NewString(), input.StationID, input.EmployeeID, input.EmployeeName, startDate, endDate, time.Now().UTC()))
	if err != nil {
		return models.Assignment{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (s *Store) ListAssignments(ctx context.Context, stationID string, date time.Time) ([]models.Assignment, error) {
	query := `
		SELECT schedule_id, station_id, employee_id, employee_name, start_date, end_date, is_active, created_at
		FROM assignment_schedules
		WHERE is_active = TRUE
	`
	args := []interface{}{}
	argPos := 1
	if stationID != "" {
		query += fmt.Sprintf(" AND station_id = $%d", argPos)
		args = append(args, stationID)
		argPos++
	}
	if !date.IsZero() {
		query += fmt.Sprintf(" AND start_date <= $%d::date AND (end_date IS NULL OR end_date >= $%d::date)", argPos, argPos)
		args = append(args, date.UTC().Format(models.DateLayout))
		argPos++
	}
	query += " ORDER BY start_date ASC, created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// StatisticsFor derives per-type and system-wide counts from one grouped
// query; the totals are folded from the same snapshot so they always equal
// the sum of the per-type rows.
func (s *Store) StatisticsFor(ctx context.Context, date time.Time) (store.Statistics, error) {
	serviceDate := date.UTC().Format(models.DateLayout)
	rows, err := s.pool.Query(ctx, `
		SELECT queue_type,
			SUM(CASE WHEN status IN ('waiting', 'arrived') THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN time_in IS NOT NULL AND status IN ('in_progress', 'completed') THEN 1 ELSE 0 END),
			COALESCE(SUM(CASE WHEN time_in IS NOT NULL AND status IN ('in_progress', 'completed')
				THEN EXTRACT(EPOCH FROM (time_in - created_at)) ELSE 0 END), 0)
		FROM queue_entries
		WHERE service_date = $1::date
		GROUP BY queue_type
	`, serviceDate)
	if err != nil {
		return store.Statistics{}, err
	}
	defer rows.Close()

	result := store.Statistics{Date: serviceDate}
	byType := make(map[models.StationType]store.StationStats)
	var totalWaitSamples int64
	var totalWaitSum float64
	for rows.Next() {
		var queueType string
		var stats store.StationStats
		var waitSamples int64
		var waitSum float64
		if err := rows.Scan(&queueType, &stats.WaitingCount, &stats.InProgressCount, &stats.CompletedCount, &waitSamples, &waitSum); err != nil {
			return store.Statistics{}, err
		}
		stats.QueueType = models.StationType(queueType)
		if waitSamples > 0 {
			stats.AverageWaitSeconds = waitSum / float64(waitSamples)
		}
		byType[stats.QueueType] = stats

		result.Totals.WaitingCount += stats.WaitingCount
		result.Totals.InProgressCount += stats.InProgressCount
		result.Totals.CompletedCount += stats.CompletedCount
		totalWaitSamples += waitSamples
		totalWaitSum += waitSum
	}
	if err := rows.Err(); err != nil {
		return store.Statistics{}, err
	}
	if totalWaitSamples > 0 {
		result.Totals.AverageWaitSeconds = totalWaitSum / float64(totalWaitSamples)
	}

	for _, t := range models.AllStationTypes() {
		stats, ok := byType[t]
		if !ok {
			stats = store.StationStats{QueueType: t}
		}
		result.Stations = append(result.Stations, stats)
	}
	return result, nil
}

const displayNextCodes = 3

func (s *Store) DisplayBoard(ctx context.Context, date time.Time) ([]store.StationDisplay, error) {
	overviews, err := s.StationOverviews(ctx, date)
	if err != nil {
		return nil, err
	}
	serviceDate := date.UTC().Format(models.DateLayout)

	var board []store.StationDisplay
	for _, overview := range overviews {
		display := store.StationDisplay{
			QueueType:   overview.Station.StationType,
			StationName: overview.Station.Name,
			Waiting:     overview.Waiting,
		}

		var nowServing sql.NullString
		row := s.pool.QueryRow(ctx, `
			SELECT code
			FROM queue_entries
			WHERE station_id = $1 AND service_date = $2::date AND status = 'in_progress'
			ORDER BY time_in DESC
			LIMIT 1
		`, overview.Station.StationID, serviceDate)
		if err := row.Scan(&nowServing); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if nowServing.Valid {
			display.NowServing = nowServing.String
		}

		rows, err := s.pool.Query(ctx, `
			SELECT code
			FROM queue_entries
			WHERE queue_type = $1 AND service_date = $2::date
				AND status IN ('waiting', 'arrived')
			ORDER BY priority_level DESC, queue_number ASC
			LIMIT $3
		`, string(overview.Station.StationType), serviceDate, displayNextCodes)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return nil, err
			}
			display.NextCodes = append(display.NextCodes, code)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		board = append(board, display)
	}
	return board, nil
}

func (s *Store) GetSetting(ctx context.Context, flag string) (bool, error) {
	if !store.KnownSetting(flag) {
		return false, store.ErrSettingUnknown
	}
	var value bool
	row := s.pool.QueryRow(ctx, `
		SELECT value FROM queue_settings WHERE flag = $1
	`, flag)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, flag string, value bool) error {
	if !store.KnownSetting(flag) {
		return store.ErrSettingUnknown
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_settings (flag, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (flag) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, flag, value, time.Now().UTC())
	return err
}

func (s *Store) ToggleSetting(ctx context.Context, flag string) (bool, error) {
	if !store.KnownSetting(flag) {
		return false, store.ErrSettingUnknown
	}
	var value bool
	row := s.pool.QueryRow(ctx, `
		INSERT INTO queue_settings (flag, value, updated_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (flag) DO UPDATE SET value = NOT queue_settings.value, updated_at = EXCLUDED.updated_at
		RETURNING value
	`, flag, time.Now().UTC())
	if err := row.Scan(&value); err != nil {
		return false, err
	}
	return value, nil
}

func (s *Store) ListSettings(ctx context.Context) (map[string]bool, error) {
	settings := make(map[string]bool, len(store.SettingFlags()))
	for _, flag := range store.SettingFlags() {
		settings[flag] = false
	}
	rows, err := s.pool.Query(ctx, `SELECT flag, value FROM queue_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var flag string
		var value bool
		if err := rows.Scan(&flag, &value); err != nil {
			return nil, err
		}
		if store.KnownSetting(flag) {
			settings[flag] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settings, nil
}

// AutoNoShow closes out entries that sat pending past the grace period.
func (s *Store) AutoNoShow(ctx context.Context, grace time.Duration, batchSize int) (int, error) {
	if grace <= 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	cutoff := time.Now().UTC().Add(-grace)
	rows, err := tx.Query(ctx, `
		SELECT entry_id
		FROM queue_entries
		WHERE status IN ('waiting', 'arrived') AND created_at <= $1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		if err = tx.Commit(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}

	processed := 0
	for _, id := range ids {
		entry, err := scanEntry(tx.QueryRow(ctx, `
			UPDATE queue_entries e
			SET status = 'no_show'
			FROM patients p
			WHERE e.entry_id = $1 AND p.patient_id = e.patient_id
			RETURNING `+entryColumns, id))
		if err != nil {
			return 0, err
		}
		if err = insertQueueEvent(ctx, tx, "entry.no_show", "", entry); err != nil {
			return 0, err
		}
		processed++
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return processed, nil
}

func (s *Store) ListQueueEvents(ctx context.Context, after store.EventOffset, limit int) ([]store.QueueEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	// event_id is a uuid column; an unset cursor must still bind as one.
	if after.LastEventTime.IsZero() {
		after.LastEventTime = time.Unix(0, 0).UTC()
	}
	if after.LastEventID == "" {
		after.LastEventID = uuid.Nil.String()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM queue_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after.LastEventTime, after.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.QueueEvent
	for rows.Next() {
		var event store.QueueEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, name, role, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > $2
	`, sessionID, time.Now().UTC())
	if err := row.Scan(&session.SessionID, &session.UserID, &session.Name, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) getStation(ctx context.Context, stationID string) (models.Station, error) {
	var station models.Station
	var stationType string
	row := s.pool.QueryRow(ctx, `
		SELECT station_id, name, station_type, is_active
		FROM stations
		WHERE station_id = $1 AND is_active = TRUE
	`, stationID)
	if err := row.Scan(&station.StationID, &station.Name, &stationType, &station.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Station{}, store.ErrStationNotFound
		}
		return models.Station{}, err
	}
	parsed, err := models.ParseStationType(stationType)
	if err != nil {
		return models.Station{}, err
	}
	station.StationType = parsed
	return station, nil
}

// nextQueueNumber hands out the next number for a (queue type, day) scope.
// The upsert takes a row lock on the sequence, so concurrent allocations for
// the same scope serialize while distinct scopes proceed in parallel.
func nextQueueNumber(ctx context.Context, tx pgx.Tx, queueType models.StationType, serviceDate string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_sequences (queue_type, service_date, next_number)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (queue_type, service_date)
		DO UPDATE SET next_number = queue_sequences.next_number + 1
		RETURNING next_number
	`, string(queueType), serviceDate)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func getSettingTx(ctx context.Context, tx pgx.Tx, flag string) (bool, error) {
	var value bool
	row := tx.QueryRow(ctx, `SELECT value FROM queue_settings WHERE flag = $1`, flag)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return value, nil
}

func findEntryByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.QueueEntry, bool, error) {
	if requestID == "" {
		return models.QueueEntry{}, false, nil
	}
	entry, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries e
		JOIN patients p ON p.patient_id = e.patient_id
		WHERE e.request_id = $1
	`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func eventTypeFor(status string) string {
	switch status {
	case models.StatusArrived:
		return "entry.arrived"
	case models.StatusInProgress:
		return "entry.claimed"
	case models.StatusCompleted:
		return "entry.completed"
	case models.StatusNoShow:
		return "entry.no_show"
	case models.StatusCancelled:
		return "entry.cancelled"
	default:
		return "entry.updated"
	}
}

func insertQueueEvent(ctx context.Context, tx pgx.Tx, eventType, requestID string, entry models.QueueEntry) error {
	payload := map[string]interface{}{
		"entry_id":     entry.EntryID,
		"code":         entry.Code,
		"queue_type":   string(entry.QueueType),
		"queue_number": entry.QueueNumber,
		"status":       entry.Status,
		"service_date": entry.ServiceDate,
	}
	if entry.StationID != nil {
		payload["station_id"] = *entry.StationID
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_events (event_id, request_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), nullIfEmpty(requestID), eventType, payloadJSON, time.Now().UTC())
	return err
}

// findEntryByActionRequest replays an already-applied status action. The
// request id is stored on the emitted event, so a retried claim or complete
// returns the entry instead of losing the compare-and-set against itself.
func findEntryByActionRequest(ctx context.Context, tx pgx.Tx, requestID string) (models.QueueEntry, bool, error) {
	if requestID == "" {
		return models.QueueEntry{}, false, nil
	}
	var entryID string
	row := tx.QueryRow(ctx, `
		SELECT payload_json->>'entry_id'
		FROM queue_events
		WHERE request_id = $1
	`, requestID)
	if err := row.Scan(&entryID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	entry, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries e
		JOIN patients p ON p.patient_id = e.patient_id
		WHERE e.entry_id = $1
	`, entryID))
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var queueType string
	var stationIDNull sql.NullString
	var timeInNull sql.NullTime
	var completedAtNull sql.NullTime
	if err := row.Scan(
		&entry.EntryID, &entry.AppointmentID, &entry.PatientID, &entry.PatientName, &entry.ServiceID,
		&queueType, &entry.QueueNumber, &entry.Code, &entry.PriorityLevel, &entry.Status,
		&stationIDNull, &entry.ServiceDate, &entry.CreatedAt, &timeInNull, &completedAtNull,
	); err != nil {
		return models.QueueEntry{}, err
	}
	entry.QueueType = models.StationType(queueType)
	entry.StationID = nullStringPtr(stationIDNull)
	entry.TimeIn = nullTimePtr(timeInNull)
	entry.CompletedAt = nullTimePtr(completedAtNull)
	return entry, nil
}

func collectStations(rows pgx.Rows) ([]models.Station, error) {
	defer rows.Close()
	var stations []models.Station
	for rows.Next() {
		var station models.Station
		var stationType string
		if err := rows.Scan(&station.StationID, &station.Name, &stationType, &station.IsActive); err != nil {
			return nil, err
		}
		station.StationType = models.StationType(stationType)
		stations = append(stations, station)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stations, nil
}

func scanAssignment(row rowScanner) (models.Assignment, error) {
	var assignment models.Assignment
	var endDateNull sql.NullTime
	if err := row.Scan(
		&assignment.ScheduleID, &assignment.StationID, &assignment.EmployeeID, &assignment.EmployeeName,
		&assignment.StartDate, &endDateNull, &assignment.IsActive, &assignment.CreatedAt,
	); err != nil {
		return models.Assignment{}, err
	}
	assignment.EndDate = nullTimePtr(endDateNull)
	return assignment, nil
}

// isTransient reports whether an error is worth retrying: serialization
// failures, deadlocks, and duplicate-number collisions raced in by another
// allocator.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	case "23505":
		return strings.Contains(pgErr.ConstraintName, "queue_entries_queue_type_service_date_queue_number")
	default:
		return false
	}
}

// isActiveEntryConflict reports a unique violation on the one-active-entry-
// per-appointment index, meaning a concurrent check-in for the same
// appointment committed first.
func isActiveEntryConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		strings.Contains(pgErr.ConstraintName, "queue_entries_active_appointment_idx")
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
