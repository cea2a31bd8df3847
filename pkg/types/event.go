// Package types provides core data types for churnfeat.
package types

import "time"

// Field names of the canonical raw event record.
const (
	FieldEntityID     = "entity_id"
	FieldSessionID    = "session_id"
	FieldEventType    = "event_type"
	FieldTimestamp    = "timestamp"
	FieldStatus       = "status"
	FieldTier         = "subscription_tier"
	FieldGender       = "gender"
	FieldDevice       = "device_string"
	FieldSong         = "song"
	FieldArtist       = "artist"
	FieldLength       = "length"
	FieldRegistration = "registration_timestamp"
)

// RequiredFields lists the raw columns whose total absence is fatal.
var RequiredFields = []string{FieldEntityID, FieldSessionID, FieldTimestamp}

// OptionalFields lists the raw columns that enable optional feature blocks.
var OptionalFields = []string{
	FieldEventType,
	FieldStatus,
	FieldTier,
	FieldGender,
	FieldDevice,
	FieldSong,
	FieldArtist,
	FieldLength,
	FieldRegistration,
}

// Unknown is the placeholder for a missing categorical value.
const Unknown = "unknown"

// Event is a single normalized interaction.
type Event struct {
	// EntityID identifies the account the event belongs to
	EntityID string `json:"entity_id"`

	// SessionID identifies the session within the account
	SessionID string `json:"session_id"`

	// Timestamp is the UTC event time
	Timestamp time.Time `json:"timestamp"`

	// Date is the UTC calendar day of Timestamp
	Date time.Time `json:"date"`

	// EventType is the page or action name, lower-cased
	EventType string `json:"event_type"`

	// Status is the HTTP status code of the interaction
	Status int `json:"status"`

	Tier   string `json:"subscription_tier"`
	Gender string `json:"gender"`

	// Device is the lower-cased device string
	Device string `json:"device_string"`

	// DeviceMissing is set when the raw record carried no device string
	DeviceMissing bool `json:"device_missing,omitempty"`

	Song   string  `json:"song"`
	Artist string  `json:"artist"`
	Length float64 `json:"length"`

	// Registration is the account registration time (zero if the log has none)
	Registration time.Time `json:"registration"`
}

// EventLog is an ordered, deduplicated sequence of normalized events.
type EventLog struct {
	// Events are sorted by (EntityID, SessionID, Timestamp)
	Events []Event

	fields map[string]bool
}

// NewEventLog creates an event log over events. fields names the optional raw
// columns that were present in the source log.
func NewEventLog(events []Event, fields []string) *EventLog {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return &EventLog{Events: events, fields: set}
}

// Has reports whether the optional field was present in the source log.
func (l *EventLog) Has(field string) bool {
	if l == nil {
		return false
	}
	return l.fields[field]
}

// HasAll reports whether every given field was present in the source log.
func (l *EventLog) HasAll(fields ...string) bool {
	for _, f := range fields {
		if !l.Has(f) {
			return false
		}
	}
	return true
}

// Fields returns the present optional fields in canonical order.
func (l *EventLog) Fields() []string {
	var out []string
	for _, f := range OptionalFields {
		if l.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of events.
func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Events)
}

// MaxTimestamp returns the latest event time in the log.
func (l *EventLog) MaxTimestamp() time.Time {
	var max time.Time
	if l == nil {
		return max
	}
	for _, e := range l.Events {
		if e.Timestamp.After(max) {
			max = e.Timestamp
		}
	}
	return max
}
