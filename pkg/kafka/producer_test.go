package kafka

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildDecisionRecord(t *testing.T) {
	event := &DecisionEvent{
		EventID:         "evt-1",
		ScheduleEntryID: "entry-1",
		ClientID:        "client-1",
		Channel:         "instagram",
		ActionType:      "select_asset",
		Confidence:      0.82,
		Actor:           "system",
		Timestamp:       time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
		SchemaVersion:   "1.0",
	}

	record, err := BuildDecisionRecord(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Topic != DecisionsTopic {
		t.Errorf("expected topic %q, got %q", DecisionsTopic, record.Topic)
	}
	if string(record.Key) != "evt-1" {
		t.Errorf("expected key evt-1, got %q", record.Key)
	}

	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["action_type"] != "select_asset" || headers["client_id"] != "client-1" || headers["channel"] != "instagram" {
		t.Errorf("unexpected headers: %v", headers)
	}

	var decoded DecisionEvent
	if err := json.Unmarshal(record.Value, &decoded); err != nil {
		t.Fatalf("value is not valid JSON: %v", err)
	}
	if decoded.ActionType != "select_asset" || decoded.Confidence != 0.82 {
		t.Errorf("payload mismatch: %+v", decoded)
	}
}

func TestBuildDecisionRecord_NilEvent(t *testing.T) {
	if _, err := BuildDecisionRecord(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestBuildDecisionRecord_NoChannelHeader(t *testing.T) {
	record, err := BuildDecisionRecord(&DecisionEvent{EventID: "evt-2", ClientID: "c", ActionType: "fatigue_check"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, h := range record.Headers {
		if h.Key == "channel" {
			t.Fatal("channel header should be omitted when empty")
		}
	}
}
