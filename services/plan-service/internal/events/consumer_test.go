package events

import (
	"encoding/json"
	"testing"
)

func TestTranslateBuildsEnvelope(t *testing.T) {
	businessID, envelope, err := translate([]byte(`{
		"business_id": "biz-1",
		"appointment": {"id": "apt-1", "starts_at": "2026-09-01T10:00:00Z"}
	}`))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if businessID != "biz-1" {
		t.Fatalf("unexpected business id: %q", businessID)
	}

	var out struct {
		Type        string          `json:"type"`
		Appointment json.RawMessage `json:"appointment"`
	}
	if err := json.Unmarshal(envelope, &out); err != nil {
		t.Fatalf("envelope not JSON: %v", err)
	}
	if out.Type != "new_appointment" {
		t.Fatalf("unexpected type: %q", out.Type)
	}
	var apt struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out.Appointment, &apt); err != nil || apt.ID != "apt-1" {
		t.Fatalf("appointment body not passed through: %s", out.Appointment)
	}
}

func TestTranslateRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{broken`},
		{"missing business_id", `{"appointment":{"id":"apt-1"}}`},
		{"missing appointment", `{"business_id":"biz-1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := translate([]byte(tc.payload)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
