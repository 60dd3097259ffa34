package models

import (
	"bytes"
	"encoding/json"
	"errors"
)

const (
	EventTokenCreated       = "TOKEN_CREATED"
	EventTokenStatusUpdated = "TOKEN_STATUS_UPDATED"
)

var ErrMalformedEvent = errors.New("malformed event")

// Event is one server push record. Only Kind is consumed by the stores;
// the remaining fields are kept for logging.
type Event struct {
	Kind     string          `json:"event"`
	TokenID  string          `json:"token_id,omitempty"`
	Status   string          `json:"status,omitempty"`
	DoctorID string          `json:"doctor_id,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// TokenChanged reports whether the event signals a change in token state.
func (e Event) TokenChanged() bool {
	return e.Kind == EventTokenCreated || e.Kind == EventTokenStatusUpdated
}

// ParseEvent decodes a push message. The message must be a JSON object
// whose "event" field, when present, is a string. Payload fields are only
// kept for logging and never fail the parse.
func ParseEvent(data []byte) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, ErrMalformedEvent
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Event{}, errors.Join(ErrMalformedEvent, err)
	}
	var event Event
	if kind, ok := fields["event"]; ok {
		if err := json.Unmarshal(kind, &event.Kind); err != nil {
			return Event{}, errors.Join(ErrMalformedEvent, err)
		}
	}
	event.TokenID = payloadText(fields["token_id"])
	event.Status = payloadText(fields["status"])
	event.DoctorID = payloadText(fields["doctor_id"])
	event.Raw = append(json.RawMessage(nil), trimmed...)
	return event, nil
}

// payloadText renders a payload field for logs: strings unquoted, any
// other JSON value as written.
func payloadText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
