package task

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Payload keys recognized by the execution fabric.
const (
	KeyUserMessage    = "user_message"
	KeyMessage        = "message"
	KeyRunAt          = "run_at"
	KeyRepeatEnabled  = "repeat_enabled"
	KeyRepeatInterval = "repeat_interval_seconds"
	KeyMeta           = "meta"
	KeySeverity       = "severity"
	KeyRelatedTaskID  = "related_task_id"
	KeyArtifactRefs   = "artifact_refs"
	KeyError          = "error"
)

// MinRepeatInterval is the floor for recurring work tasks.
const MinRepeatInterval = time.Hour

// Payload carries the JSON-compatible task parameters.
type Payload map[string]any

// Clone returns a deep copy; nested maps are copied, other values shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	dup := make(Payload, len(p))
	for key, value := range p {
		if nested, ok := value.(map[string]any); ok {
			dup[key] = Payload(nested).Clone()
			continue
		}
		dup[key] = value
	}
	return dup
}

// Merge deep-merges patch into p: map-valued keys merge recursively, other
// values replace, nil values delete.
func (p Payload) Merge(patch Payload) Payload {
	merged := p.Clone()
	if merged == nil {
		merged = Payload{}
	}
	for key, value := range patch {
		if value == nil {
			delete(merged, key)
			continue
		}
		incoming, inOK := toStringMap(value)
		current, curOK := toStringMap(merged[key])
		if inOK && curOK {
			merged[key] = map[string]any(Payload(current).Merge(incoming))
			continue
		}
		merged[key] = value
	}
	return merged
}

func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	default:
		return nil, false
	}
}

// Message returns the work/notification message text.
func (p Payload) Message() string {
	return cast.ToString(p[KeyMessage])
}

// UserMessage returns the main-path request text.
func (p Payload) UserMessage() string {
	return cast.ToString(p[KeyUserMessage])
}

// Meta returns the opaque routing metadata map, or nil.
func (p Payload) Meta() map[string]any {
	if m, ok := toStringMap(p[KeyMeta]); ok {
		return m
	}
	return nil
}

// ErrorInfo returns the recorded error object, or nil.
func (p Payload) ErrorInfo() map[string]any {
	if m, ok := toStringMap(p[KeyError]); ok {
		return m
	}
	return nil
}

// IsRecurring reports whether the payload requests recurrence: the flag set
// and a positive interval present.
func (p Payload) IsRecurring() bool {
	return cast.ToBool(p[KeyRepeatEnabled]) && cast.ToInt64(p[KeyRepeatInterval]) > 0
}

// RepeatInterval returns the recurrence interval clamped to MinRepeatInterval.
func (p Payload) RepeatInterval() time.Duration {
	return ClampRepeatInterval(time.Duration(cast.ToInt64(p[KeyRepeatInterval])) * time.Second)
}

// ClampRepeatInterval enforces the one-hour recurrence floor.
func ClampRepeatInterval(interval time.Duration) time.Duration {
	if interval < MinRepeatInterval {
		return MinRepeatInterval
	}
	return interval
}

// RunAt parses the scheduled time. An absent or empty run_at means
// "immediately" and reports a zero time with ok=false. A non-empty value
// that does not parse returns an error; naive timestamps are taken as UTC.
func (p Payload) RunAt() (at time.Time, ok bool, err error) {
	raw, present := p[KeyRunAt]
	if !present {
		return time.Time{}, false, nil
	}
	text := cast.ToString(raw)
	if text == "" {
		return time.Time{}, false, nil
	}
	parsed, err := ParseTime(text)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, true, nil
}

// timeLayouts accepted for run_at values, tried in order. Naive layouts are
// interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp, defaulting naive values to UTC.
func ParseTime(text string) (time.Time, error) {
	for _, layout := range timeLayouts {
		parsed, err := time.ParseInLocation(layout, text, time.UTC)
		if err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", text)
}

// ReschedulePatch builds the patch that resurrects a completed recurring
// task: back to queued, lease cleared, run_at advanced by the clamped
// interval. The original row (and task id) is reused.
func ReschedulePatch(p Payload, now time.Time) Patch {
	interval := p.RepeatInterval()
	queued := StateQueued
	return Patch{
		State:      &queued,
		ClearLease: true,
		Payload: Payload{
			KeyRunAt:          now.Add(interval).UTC().Format(time.RFC3339Nano),
			KeyRepeatInterval: int64(interval / time.Second),
			KeyRepeatEnabled:  true,
		},
	}
}
