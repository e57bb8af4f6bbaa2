// Package events defines the security event vocabulary shared by collectors
// and the components that ship their output.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrDecode is returned when a serialized event cannot be decoded.
var ErrDecode = errors.New("decode security event")

// SecurityEvent is the canonical unit of telemetry.
//
// Values are created through a Builder and are not modified once they have
// been handed to a queue.
type SecurityEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   EventType         `json:"event_type"`
	Severity    Severity          `json:"severity"`
	Source      string            `json:"source"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details"`
}

// Detail returns the value stored under key.
func (e SecurityEvent) Detail(key string) (string, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// Equal reports whether two events carry the same data. Timestamps compare
// as instants and a nil detail map equals an empty one.
func (e SecurityEvent) Equal(o SecurityEvent) bool {
	return e.Timestamp.Equal(o.Timestamp) &&
		e.EventType == o.EventType &&
		e.Severity == o.Severity &&
		e.Source == o.Source &&
		e.Description == o.Description &&
		maps.Equal(e.Details, o.Details)
}

// MarshalJSON always emits details as an object, never null.
func (e SecurityEvent) MarshalJSON() ([]byte, error) {
	type wire SecurityEvent
	w := wire(e)
	w.Timestamp = e.Timestamp.UTC()
	if w.Details == nil {
		w.Details = map[string]string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an event. Every field must be present.
func (e *SecurityEvent) UnmarshalJSON(data []byte) error {
	type wire struct {
		Timestamp   *time.Time         `json:"timestamp"`
		EventType   *EventType         `json:"event_type"`
		Severity    *Severity          `json:"severity"`
		Source      *string            `json:"source"`
		Description *string            `json:"description"`
		Details     *map[string]string `json:"details"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Timestamp == nil:
		return fmt.Errorf("%w: missing timestamp", ErrDecode)
	case w.EventType == nil:
		return fmt.Errorf("%w: missing event_type", ErrDecode)
	case w.Severity == nil:
		return fmt.Errorf("%w: missing severity", ErrDecode)
	case w.Source == nil:
		return fmt.Errorf("%w: missing source", ErrDecode)
	case w.Description == nil:
		return fmt.Errorf("%w: missing description", ErrDecode)
	case w.Details == nil || *w.Details == nil:
		return fmt.Errorf("%w: missing details", ErrDecode)
	}
	*e = SecurityEvent{
		Timestamp:   w.Timestamp.UTC(),
		EventType:   *w.EventType,
		Severity:    *w.Severity,
		Source:      *w.Source,
		Description: *w.Description,
		Details:     *w.Details,
	}
	return nil
}

// ToJSON serializes the event.
func (e SecurityEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event produced by ToJSON.
func FromJSON(data []byte) (SecurityEvent, error) {
	var e SecurityEvent
	if err := json.Unmarshal(data, &e); err != nil {
		if errors.Is(err, ErrDecode) {
			return SecurityEvent{}, err
		}
		return SecurityEvent{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return e, nil
}

// Builder assembles a SecurityEvent. Collectors create one through a
// constructor helper, attach context and revise severity, then call Build
// before handing the event off.
type Builder struct {
	event SecurityEvent
}

// New starts an event stamped with the current time.
func New(eventType EventType, severity Severity, source, description string) *Builder {
	return &Builder{
		event: SecurityEvent{
			Timestamp:   time.Now().UTC(),
			EventType:   eventType,
			Severity:    severity,
			Source:      source,
			Description: description,
			Details:     make(map[string]string),
		},
	}
}

// Detail attaches a key/value pair. A repeated key overwrites the earlier value.
func (b *Builder) Detail(key, value string) *Builder {
	b.event.Details[key] = value
	return b
}

// Severity replaces the severity chosen at construction.
func (b *Builder) Severity(s Severity) *Builder {
	b.event.Severity = s
	return b
}

// Build returns the finished event. The returned value owns its detail map,
// so later changes to the builder do not leak into it.
func (b *Builder) Build() SecurityEvent {
	e := b.event
	e.Details = maps.Clone(b.event.Details)
	return e
}
