package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Schedule statuses.
const (
	ScheduleActive    = "active"
	SchedulePaused    = "paused"
	ScheduleCompleted = "completed"
)

// ScheduledRun executes a coordinator on a schedule. Schedule holds the
// JSON form understood by the schedule package.
type ScheduledRun struct {
	ID          string          `json:"id"`
	Coordinator string          `json:"coordinator"`
	Name        string          `json:"name"`
	Schedule    string          `json:"schedule"`
	Mode        string          `json:"mode,omitempty"`
	Method      string          `json:"method,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      string          `json:"status"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time      `json:"last_run_at,omitempty"`
	LastStatus  string          `json:"last_status,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

const scheduleColumns = `id, coordinator, name, schedule, mode, method, params, status,
		       next_run_at, last_run_at, last_status, last_error, created_at`

func scanSchedule(sc scanner) (*ScheduledRun, error) {
	r := &ScheduledRun{}
	var mode, method, params, lastStatus, lastError *string
	err := sc.Scan(&r.ID, &r.Coordinator, &r.Name, &r.Schedule, &mode, &method, &params, &r.Status,
		&r.NextRunAt, &r.LastRunAt, &lastStatus, &lastError, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Mode = deref(mode)
	r.Method = deref(method)
	r.LastStatus = deref(lastStatus)
	r.LastError = deref(lastError)
	r.Params = rawOrNil(params)
	return r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) SaveSchedule(r *ScheduledRun) error {
	if r.Status == "" {
		r.Status = ScheduleActive
	}
	_, err := s.db.Exec(`
		INSERT INTO schedules (id, coordinator, name, schedule, mode, method, params, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			coordinator = excluded.coordinator,
			name = excluded.name,
			schedule = excluded.schedule,
			mode = excluded.mode,
			method = excluded.method,
			params = excluded.params,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		r.ID, r.Coordinator, r.Name, r.Schedule, r.Mode, r.Method, nullable(r.Params), r.Status, utcPtr(r.NextRunAt))
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*ScheduledRun, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	r, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return r, nil
}

func (s *Store) ListSchedules() ([]ScheduledRun, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// GetDueSchedules returns active schedules whose next run is at or before now.
func (s *Store) GetDueSchedules(now time.Time) ([]ScheduledRun, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	return collectSchedules(rows)
}

func collectSchedules(rows *sql.Rows) ([]ScheduledRun, error) {
	defer rows.Close()

	var out []ScheduledRun
	for rows.Next() {
		r, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScheduleRun(id, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, utcPtr(nextRunAt), id)
	return err
}

func (s *Store) UpdateScheduleStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	return err
}
