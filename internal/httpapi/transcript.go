package httpapi

import (
	"net/http"

	"github.com/cliolabs/clio/internal/transcript"
)

func (s *Server) handleUnconsolidated(w http.ResponseWriter, r *http.Request) {
	segments := s.sup.Unconsolidated()
	if segments == nil {
		segments = []transcript.Segment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": segments,
		"count":    len(segments),
	})
}

func (s *Server) handleConsolidated(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Consolidated())
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	questions := s.sup.Questions()
	if questions == nil {
		questions = []transcript.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": questions,
		"count":     len(questions),
	})
}
