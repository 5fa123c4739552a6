// Package schedule parses and evaluates the timing rules attached to
// scheduled coordinator runs.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"` // unix milliseconds
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

func (s *Schedule) validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return errors.New("interval_ms must be positive")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return errors.New("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %q", s.Kind)
	}
	return nil
}

// Next returns the first run time strictly after now, or nil when the
// schedule will not fire again.
func Next(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time
	switch s.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		if s.IntervalMs <= 0 {
			return nil
		}
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	default:
		return nil
	}
	return &next
}

// Normalize accepts the JSON form, "every <duration>", an RFC 3339
// timestamp for a single run, or a bare cron expression, and returns the
// JSON form.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		if err := s.validate(); err != nil {
			return "", err
		}
		return encode(s)
	}

	if rest, ok := strings.CutPrefix(raw, "every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return "", fmt.Errorf("invalid interval: %s", rest)
		}
		return encode(Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()})
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return encode(Schedule{Kind: KindOnce, AtMs: t.UnixMilli()})
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not JSON, an interval, a timestamp or a cron expression: %s", raw)
	}
	return encode(Schedule{Kind: KindCron, CronExpr: raw})
}

func encode(s Schedule) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Describe renders a schedule for people.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d >= time.Hour && d%time.Hour == 0:
			return plural(int(d.Hours()), "hour")
		case d >= time.Minute && d%time.Minute == 0:
			return plural(int(d.Minutes()), "minute")
		default:
			return "every " + d.String()
		}
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).UTC().Format(time.RFC3339)
	}
	return raw
}

func plural(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}
