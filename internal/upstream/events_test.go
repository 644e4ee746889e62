package upstream

import (
	"testing"
)

func TestNormalizeServerReady(t *testing.T) {
	raw := []byte(`{"uid":"abc","message":"SERVER_READY","backend":"faster_whisper"}`)
	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != EventServerReady {
		t.Errorf("EventType = %q, want server_ready", ev.EventType)
	}
	if ev.ClientUID != "abc" {
		t.Errorf("ClientUID = %q, want abc", ev.ClientUID)
	}
	if ev.Backend != "faster_whisper" {
		t.Errorf("Backend = %q, want faster_whisper", ev.Backend)
	}
	if ev.EventID == "" {
		t.Error("EventID should be set")
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNormalizeWaitWithNumericMessage(t *testing.T) {
	raw := []byte(`{"uid":"abc","status":"WAIT","message":1.66}`)
	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventType != EventWait {
		t.Errorf("EventType = %q, want wait", events[0].EventType)
	}
	if events[0].Message != "1.66" {
		t.Errorf("Message = %q, want 1.66", events[0].Message)
	}
}

func TestNormalizeSegments(t *testing.T) {
	raw := []byte(`{
		"uid": "abc",
		"segments": [
			{"start": "0.0", "end": "1.5", "text": "hello world", "completed": true},
			{"start": "1.5", "end": "2.0", "text": "how are", "completed": false}
		]
	}`)
	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	if events[0].EventType != EventFinal {
		t.Errorf("events[0].EventType = %q, want final", events[0].EventType)
	}
	if events[0].Text != "hello world" {
		t.Errorf("events[0].Text = %q", events[0].Text)
	}
	if events[0].Start != 0 || events[0].End != 1.5 {
		t.Errorf("events[0] times = (%v, %v), want (0, 1.5)", events[0].Start, events[0].End)
	}
	if events[0].SegmentID != "0.000_0" {
		t.Errorf("events[0].SegmentID = %q, want 0.000_0", events[0].SegmentID)
	}

	if events[1].EventType != EventPartial {
		t.Errorf("events[1].EventType = %q, want partial", events[1].EventType)
	}
	if events[1].SegmentID != "1.500_1" {
		t.Errorf("events[1].SegmentID = %q, want 1.500_1", events[1].SegmentID)
	}
}

func TestNormalizeExplicitSegmentID(t *testing.T) {
	raw := []byte(`{"segments":[{"id":7,"start":"2.0","end":"3.0","text":"x","completed":true}]}`)
	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if events[0].SegmentID != "7" {
		t.Errorf("SegmentID = %q, want 7 (server id preserved)", events[0].SegmentID)
	}
}

func TestNormalizeLanguageDetected(t *testing.T) {
	raw := []byte(`{"uid":"abc","language":"de","language_prob":0.93}`)
	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventType != EventLanguageDetected {
		t.Errorf("EventType = %q, want language_detected", events[0].EventType)
	}
	if events[0].Language != "de" || events[0].LanguageProb != 0.93 {
		t.Errorf("language = (%q, %v), want (de, 0.93)", events[0].Language, events[0].LanguageProb)
	}
}

func TestNormalizeOrdering(t *testing.T) {
	// Status, then language, then segments.
	raw := []byte(`{
		"uid": "abc",
		"message": "SERVER_READY",
		"language": "en",
		"language_prob": 0.99,
		"segments": [{"start": "0.0", "end": "1.0", "text": "hi", "completed": false}]
	}`)
	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []EventType{EventServerReady, EventLanguageDetected, EventPartial}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].EventType != w {
			t.Errorf("events[%d].EventType = %q, want %q", i, events[i].EventType, w)
		}
	}
}

func TestNormalizeMalformed(t *testing.T) {
	if _, err := Normalize([]byte("{not json")); err == nil {
		t.Error("Normalize() accepted malformed JSON")
	}
}

func TestNormalizeDisconnect(t *testing.T) {
	events, err := Normalize([]byte(`{"uid":"abc","message":"DISCONNECT"}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(events) != 1 || events[0].EventType != EventDisconnect {
		t.Fatalf("events = %+v, want one disconnect", events)
	}
}
