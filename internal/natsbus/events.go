package natsbus

import (
	"log/slog"
	"time"
)

// Event is the payload published on events.* subjects.
type Event struct {
	Type      string         `json:"type"`
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Events publishes lifecycle and run events onto the bus.
type Events struct {
	client *Client
}

func NewEvents(client *Client) *Events {
	return &Events{client: client}
}

func (e *Events) PublishComponentEvent(id, eventType string, data map[string]any) {
	e.publish(TopicEventsComponent(id), "component", id, eventType, data)
}

func (e *Events) PublishCoordinatorEvent(runID, eventType string, data map[string]any) {
	e.publish(TopicEventsCoordinator(runID), "coordinator", runID, eventType, data)
}

func (e *Events) PublishScheduleEvent(scheduleID, eventType string, data map[string]any) {
	e.publish(TopicEventsSchedule(scheduleID), "schedule", scheduleID, eventType, data)
}

func (e *Events) publish(topic, kind, id, eventType string, data map[string]any) {
	if e == nil || e.client == nil {
		return
	}
	event := Event{
		Type:      eventType,
		Kind:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	if err := e.client.PublishJSON(topic, event); err != nil {
		slog.Warn("publish event failed", "topic", topic, "type", eventType, "error", err)
	}
}
