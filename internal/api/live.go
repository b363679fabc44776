package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BITBCI/EmoSense/internal/monitoring"
	"github.com/BITBCI/EmoSense/internal/pipeline"
)

// wsWriteTimeout bounds each snapshot write so a stalled client cannot
// wedge its handler goroutine.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon serves local dashboards; any origin may watch.
		return true
	},
}

// live streams render snapshots to a websocket client, one JSON message
// per render tick.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.met.WSClientConnected()
	defer s.met.WSClientDisconnected()

	snapshots, cancel := s.pipe.Subscribe()
	defer cancel()

	// Inbound messages are discarded; the read loop exists to surface
	// close frames from the client.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// New clients get the current picture before the next render tick.
	if snap, ok := s.pipe.LastSnapshot(); ok {
		if err := writeSnapshot(conn, snap); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap pipeline.RenderSnapshot) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(snap)
}
