package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type ComponentEvent struct {
	ID        int64           `json:"id"`
	Component string          `json:"component"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) RecordComponentEvent(component, eventType string, data map[string]any) error {
	var payload []byte
	if len(data) > 0 {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
	}
	_, err := s.db.Exec(`INSERT INTO component_events (component, type, data) VALUES (?, ?, ?)`,
		component, eventType, nullable(payload))
	if err != nil {
		return fmt.Errorf("record component event: %w", err)
	}
	return nil
}

// ListComponentEvents returns the newest events for component first.
func (s *Store) ListComponentEvents(component string, limit int) ([]ComponentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, component, type, data, created_at
		FROM component_events WHERE component = ?
		ORDER BY id DESC LIMIT ?`, component, limit)
	if err != nil {
		return nil, fmt.Errorf("list component events: %w", err)
	}
	defer rows.Close()

	var events []ComponentEvent
	for rows.Next() {
		var e ComponentEvent
		var data *string
		if err := rows.Scan(&e.ID, &e.Component, &e.Type, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan component event: %w", err)
		}
		e.Data = rawOrNil(data)
		events = append(events, e)
	}
	return events, rows.Err()
}
