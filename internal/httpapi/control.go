package httpapi

import (
	"errors"
	"net/http"

	"github.com/cliolabs/clio/internal/pipeline"
	"github.com/cliolabs/clio/pkg/audio"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Start(); err != nil {
		if errors.Is(err, pipeline.ErrInvalidState) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.sup.State()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.sup.State()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.sup.Health()
	status := http.StatusOK
	if info.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, info)
}

func (s *Server) handlePipelineMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Metrics())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := audio.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}
