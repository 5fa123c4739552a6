package natsbus

import (
	"fmt"
	"strings"
)

// Topic patterns for NATS pub/sub communication.

func TopicComponentInbox(componentID string) string {
	return fmt.Sprintf("component.%s.inbox", componentID)
}

func TopicEventsComponent(componentID string) string {
	return fmt.Sprintf("events.component.%s", componentID)
}

func TopicEventsCoordinator(runID string) string {
	return fmt.Sprintf("events.coordinator.%s", runID)
}

func TopicEventsSchedule(scheduleID string) string {
	return fmt.Sprintf("events.schedule.%s", scheduleID)
}

const (
	TopicEventsAll          = "events.>"
	TopicEventsComponents   = "events.component.*"
	TopicEventsCoordinators = "events.coordinator.*"
	TopicEventsSchedules    = "events.schedule.*"
)

// checkToken rejects values that would not form exactly one literal
// subject token.
func checkToken(s string) error {
	if s == "" || strings.ContainsAny(s, ".*> \t\r\n") {
		return fmt.Errorf("%q is not a valid subject token", s)
	}
	return nil
}
