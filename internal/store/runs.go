package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type CoordinatorRun struct {
	ID          string          `json:"id"`
	Coordinator string          `json:"coordinator"`
	Mode        string          `json:"mode"`
	Method      string          `json:"method"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

const runColumns = `id, coordinator, mode, method, params, status, result, error, started_at, finished_at`

func scanRun(sc scanner) (*CoordinatorRun, error) {
	r := &CoordinatorRun{}
	var params, result, errMsg *string
	err := sc.Scan(&r.ID, &r.Coordinator, &r.Mode, &r.Method, &params, &r.Status, &result, &errMsg, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	r.Params = rawOrNil(params)
	r.Result = rawOrNil(result)
	if errMsg != nil {
		r.Error = *errMsg
	}
	return r, nil
}

func (s *Store) SaveCoordinatorRun(r *CoordinatorRun) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO coordinator_runs (id, coordinator, mode, method, params, status, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error`,
		r.ID, r.Coordinator, r.Mode, r.Method, nullable(r.Params), r.Status, nullable(r.Result), r.Error)
	if err != nil {
		return fmt.Errorf("save coordinator run: %w", err)
	}
	return nil
}

// FinishCoordinatorRun records the outcome of a run.
func (s *Store) FinishCoordinatorRun(id, status string, result json.RawMessage, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE coordinator_runs
		SET status = ?, result = ?, error = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, nullable(result), errMsg, id)
	if err != nil {
		return fmt.Errorf("finish coordinator run: %w", err)
	}
	return nil
}

func (s *Store) GetCoordinatorRun(id string) (*CoordinatorRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM coordinator_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get coordinator run: %w", err)
	}
	return r, nil
}

// ListCoordinatorRuns returns the newest runs first. An empty coordinator
// lists runs of every coordinator; limit <= 0 means no limit.
func (s *Store) ListCoordinatorRuns(coordinator string, limit int) ([]CoordinatorRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+` FROM coordinator_runs
		WHERE ? = '' OR coordinator = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, coordinator, coordinator, limit)
	if err != nil {
		return nil, fmt.Errorf("list coordinator runs: %w", err)
	}
	defer rows.Close()

	var runs []CoordinatorRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coordinator run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteCoordinatorRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM coordinator_runs WHERE id = ?`, id)
	return err
}
