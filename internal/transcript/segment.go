// Package transcript implements the aggregation subsystem: the live segment
// table with its partial/final/committed lifecycle, the consolidated
// transcript builder with overlap removal and hash-based replay
// suppression, and question extraction.
package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Status is a segment lifecycle phase. Transitions only move forward:
// PARTIAL to FINAL to COMMITTED.
type Status string

const (
	StatusPartial   Status = "PARTIAL"
	StatusFinal     Status = "FINAL"
	StatusCommitted Status = "COMMITTED"
)

// Segment is one transcript hypothesis unit with time bounds and evolving
// text. Text always holds the normalized form.
type Segment struct {
	ID        string  `json:"segment_id"`
	Text      string  `json:"text"`
	Start     float64 `json:"start_time"`
	End       float64 `json:"end_time"`
	Status    Status  `json:"status"`
	Revision  int     `json:"revision"`
	Language  string  `json:"language,omitempty"`
	IsEnglish bool    `json:"is_english"`
	TextHash  string  `json:"text_hash"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newSegment builds a revision-1 segment from normalized text.
func newSegment(id, text string, start, end float64, status Status, now time.Time) Segment {
	return Segment{
		ID:        id,
		Text:      text,
		Start:     start,
		End:       end,
		Status:    status,
		Revision:  1,
		IsEnglish: true,
		TextHash:  TextHash(text),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// withText derives the next revision of s carrying new text and status.
// CreatedAt is preserved; the revision counter advances by one.
func (s Segment) withText(text string, status Status, now time.Time) Segment {
	next := s
	next.Text = text
	next.Status = status
	next.Revision = s.Revision + 1
	next.TextHash = TextHash(text)
	next.UpdatedAt = now
	return next
}

// TextHash returns the first 16 hex characters of the SHA-256 of the
// lowercased text. Used for replay suppression and question identity.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(text)))
	return hex.EncodeToString(sum[:])[:16]
}
