package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"connkeeper/internal/connectivity"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamBuffer       = 32
	streamTypeSnapshot = "snapshot"
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// streamMessage is one websocket frame. The first frame of a connection is a
// snapshot; every later frame carries the event that caused it.
type streamMessage struct {
	Type  string              `json:"type"`
	Event *connectivity.Event `json:"event,omitempty"`
	View  connectivity.View   `json:"view"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	events, cancel := s.manager.Subscribe(streamBuffer)
	defer cancel()
	s.serveStream(conn, events)
}

func (s *Server) serveStream(conn *websocket.Conn, events <-chan connectivity.Event) {
	defer conn.Close()

	if err := writeStreamMessage(conn, streamMessage{Type: streamTypeSnapshot, View: s.manager.View()}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			msg := streamMessage{Type: string(ev.Type), Event: &ev, View: s.manager.View()}
			if err := writeStreamMessage(conn, msg); err != nil {
				s.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

func writeStreamMessage(conn *websocket.Conn, payload streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(payload)
}
