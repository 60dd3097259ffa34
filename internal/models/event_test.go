package models

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		kind    string
		wantErr bool
	}{
		{"created", `{"event":"TOKEN_CREATED","token_id":"t1","token_number":"4"}`, EventTokenCreated, false},
		{"status", ` {"event":"TOKEN_STATUS_UPDATED","status":"completed"}`, EventTokenStatusUpdated, false},
		{"unknown kind", `{"event":"DOCTOR_AWAY"}`, "DOCTOR_AWAY", false},
		{"no kind", `{"token_id":"t1"}`, "", false},
		{"not json", `hello`, "", true},
		{"array", `["TOKEN_CREATED"]`, "", true},
		{"null", `null`, "", true},
		{"truncated", `{"event":`, "", true},
		{"wrong type", `{"event":5}`, "", true},
		{"numeric token id", `{"event":"TOKEN_CREATED","token_id":42}`, EventTokenCreated, false},
		{"object status", `{"event":"TOKEN_STATUS_UPDATED","status":{"name":"completed"}}`, EventTokenStatusUpdated, false},
		{"null payload", `{"event":"TOKEN_CREATED","token_id":null,"doctor_id":[1,2]}`, EventTokenCreated, false},
		{"empty", ``, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tc.raw))
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("expected ErrMalformedEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.Kind != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, event.Kind)
			}
			if len(event.Raw) == 0 {
				t.Fatalf("expected raw bytes to be kept")
			}
		})
	}
}

func TestParseEventPayloadText(t *testing.T) {
	event, err := ParseEvent([]byte(`{"event":"TOKEN_STATUS_UPDATED","token_id":42,"status":"in_progress","doctor_id":{"id":"d1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.TokenID != "42" || event.Status != "in_progress" || event.DoctorID != `{"id":"d1"}` {
		t.Fatalf("unexpected payload fields %+v", event)
	}
	if !event.TokenChanged() {
		t.Fatalf("typed payload must not hide the change")
	}
}

func TestTokenChanged(t *testing.T) {
	if !(Event{Kind: EventTokenCreated}).TokenChanged() {
		t.Fatalf("TOKEN_CREATED should signal a change")
	}
	if !(Event{Kind: EventTokenStatusUpdated}).TokenChanged() {
		t.Fatalf("TOKEN_STATUS_UPDATED should signal a change")
	}
	if (Event{Kind: "PATIENT_CREATED"}).TokenChanged() {
		t.Fatalf("other kinds must be ignored")
	}
}

func TestStatusPriority(t *testing.T) {
	if StatusInProgress.Priority() != 0 || StatusWaiting.Priority() != 1 || StatusCompleted.Priority() != 2 {
		t.Fatalf("unexpected priority table")
	}
	if Status("cancelled").Priority() <= StatusCompleted.Priority() {
		t.Fatalf("unknown status should sort last")
	}
	if Status("cancelled").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}
