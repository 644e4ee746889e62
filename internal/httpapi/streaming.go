package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cliolabs/clio/internal/pipeline"
)

// handleSSE streams transcription events as Server-Sent Events. Each event
// is framed with its type so EventSource listeners can subscribe per type;
// a comment line is sent at the keepalive interval to hold idle proxies
// open.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sub := s.sup.Broadcaster().Subscribe(pipeline.KindSSE)
	defer sub.Close()
	s.metrics.SubscriberConnected(ctx, pipeline.KindSSE)
	defer s.metrics.SubscriberDisconnected(ctx, pipeline.KindSSE)
	s.log.Debug("sse subscriber connected", "remote", r.RemoteAddr)

	keepalive := time.NewTicker(s.keepAlive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sub.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("sse encode failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWS streams transcription events over a WebSocket. The read side is
// drained only to detect the peer closing.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	ctx := r.Context()
	sub := s.sup.Broadcaster().Subscribe(pipeline.KindWS)
	defer sub.Close()
	s.metrics.SubscriberConnected(ctx, pipeline.KindWS)
	defer s.metrics.SubscriberDisconnected(ctx, pipeline.KindWS)
	s.log.Debug("websocket subscriber connected", "remote", r.RemoteAddr)

	// Reads are discarded; a read error means the peer went away.
	readCtx := conn.CloseRead(ctx)

	for {
		select {
		case <-readCtx.Done():
			return
		case ev := <-sub.Events():
			if err := wsjson.Write(readCtx, conn, ev); err != nil {
				return
			}
		}
	}
}
