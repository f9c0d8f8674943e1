package gateway

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/taskdesk/internal/bus"
)

// streamFrame is the wire shape of a bus event pushed to websocket
// clients.
type streamFrame struct {
	Topic   string `json:"topic"`
	TaskID  string `json:"task_id,omitempty"`
	Skill   string `json:"skill,omitempty"`
	Affected int   `json:"affected,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// handleWS upgrades the connection and forwards every bus event until
// the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.cfg.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	s.logger.Info("ws: client connected")
	defer func() {
		s.logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Ch():
			if !ok {
				return
			}
			frame := streamFrame{Topic: msg.Topic}
			switch payload := msg.Payload.(type) {
			case bus.TaskEvent:
				frame.TaskID = payload.TaskID
			case bus.SkillEvent:
				frame.Skill = payload.Skill
				frame.Affected = payload.Affected
				frame.Summary = payload.Summary
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				s.logger.Error("ws: write error, closing", "error", err)
				return
			}
		}
	}
}
