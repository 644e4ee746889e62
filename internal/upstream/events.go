// Package upstream maintains the WebSocket session with the WhisperLive
// transcription service: handshake, audio frame delivery, reconnection with
// backoff, and normalization of the service's JSON messages into a typed
// event stream.
package upstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a normalized upstream event.
type EventType string

const (
	EventServerReady      EventType = "server_ready"
	EventDisconnect       EventType = "disconnect"
	EventWait             EventType = "wait"
	EventError            EventType = "error"
	EventLanguageDetected EventType = "language_detected"
	EventPartial          EventType = "partial"
	EventFinal            EventType = "final"

	// EventSystem carries pipeline-internal notifications (segment commits,
	// question extraction) on the same stream as upstream events.
	EventSystem EventType = "system"
)

// Event is a single normalized transcription event. One upstream JSON
// message can expand into several events, one per segment plus any status
// change.
type Event struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	// Segment payload, set for partial and final events.
	SegmentID string  `json:"segment_id,omitempty"`
	Text      string  `json:"text,omitempty"`
	Start     float64 `json:"start,omitempty"`
	End       float64 `json:"end,omitempty"`

	// Language detection payload.
	Language     string  `json:"language,omitempty"`
	LanguageProb float64 `json:"language_prob,omitempty"`

	// Session metadata.
	ClientUID string `json:"client_uid,omitempty"`
	Backend   string `json:"backend,omitempty"`

	// Message carries status text for wait, error, and system events. For
	// wait events it is the server-estimated wait time in minutes.
	Message string `json:"message,omitempty"`
}

// serverMessage mirrors the JSON the WhisperLive server sends. Fields not
// present in a given message are left at their zero values.
type serverMessage struct {
	UID          string          `json:"uid"`
	Message      flexString      `json:"message"`
	Status       string          `json:"status"`
	Language     string          `json:"language"`
	LanguageProb float64         `json:"language_prob"`
	Segments     []serverSegment `json:"segments"`
	Backend      string          `json:"backend"`
}

// flexString decodes a JSON string or number as a string. The server's
// "message" field holds "SERVER_READY" for status messages but a numeric
// wait estimate (minutes) for WAIT responses.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type serverSegment struct {
	ID        json.Number `json:"id"`
	Start     json.Number `json:"start"`
	End       json.Number `json:"end"`
	Text      string      `json:"text"`
	Completed bool        `json:"completed"`
}

// Server status literals.
const (
	msgServerReady = "SERVER_READY"
	msgDisconnect  = "DISCONNECT"
	statusWait     = "WAIT"
	statusError    = "ERROR"

	// endOfAudio tells the server no more frames will follow.
	endOfAudio = "END_OF_AUDIO"
)

func newEvent(typ EventType) Event {
	return Event{
		EventID:   uuid.NewString(),
		EventType: typ,
		Timestamp: time.Now().UTC(),
	}
}

// NewSystemEvent builds a pipeline-internal event carrying message on the
// normalized stream.
func NewSystemEvent(message string) Event {
	ev := newEvent(EventSystem)
	ev.Message = message
	return ev
}

// Normalize parses one raw WebSocket text message from the server and
// expands it into ordered typed events: status transitions first, then a
// language detection if present, then one partial or final event per
// segment. A message that is not valid JSON yields an error and no events.
func Normalize(raw []byte) ([]Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("upstream: malformed server message: %w", err)
	}

	var events []Event

	switch {
	case msg.Message == msgServerReady:
		ev := newEvent(EventServerReady)
		ev.ClientUID = msg.UID
		ev.Backend = msg.Backend
		events = append(events, ev)
	case msg.Message == msgDisconnect:
		ev := newEvent(EventDisconnect)
		ev.ClientUID = msg.UID
		events = append(events, ev)
	case msg.Status == statusWait:
		ev := newEvent(EventWait)
		ev.ClientUID = msg.UID
		ev.Message = string(msg.Message)
		events = append(events, ev)
	case msg.Status == statusError:
		ev := newEvent(EventError)
		ev.ClientUID = msg.UID
		ev.Message = string(msg.Message)
		events = append(events, ev)
	}

	if msg.Language != "" {
		ev := newEvent(EventLanguageDetected)
		ev.ClientUID = msg.UID
		ev.Language = msg.Language
		ev.LanguageProb = msg.LanguageProb
		events = append(events, ev)
	}

	for i, seg := range msg.Segments {
		start, _ := seg.Start.Float64()
		end, _ := seg.End.Float64()

		typ := EventPartial
		if seg.Completed {
			typ = EventFinal
		}

		ev := newEvent(typ)
		ev.ClientUID = msg.UID
		ev.SegmentID = segmentID(seg, start, i)
		ev.Text = seg.Text
		ev.Start = start
		ev.End = end
		events = append(events, ev)
	}

	return events, nil
}

// segmentID returns a stable identifier for a segment. Servers that send an
// explicit id keep it; otherwise one is synthesised from the segment start
// time and its position in the message.
func segmentID(seg serverSegment, start float64, index int) string {
	if s := seg.ID.String(); s != "" {
		return s
	}
	return fmt.Sprintf("%.3f_%d", start, index)
}
