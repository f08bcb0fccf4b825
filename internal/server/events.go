package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Clients connect from file:// pages and LAN origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	eventsWriteTimeout = 10 * time.Second
	eventsPingInterval = 30 * time.Second
)

// handleEvents upgrades /events to a WebSocket and pushes playback state
// snapshots: the current full state immediately, then every subsequent
// revision (coalesced when the client is slow). The subscription is released
// when the connection closes.
func (ps *PlaybackServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		ps.logger.WithError(err).Warn("Events upgrade failed")
		return
	}
	defer conn.Close()

	id, updates := ps.hub.Subscribe()
	defer ps.hub.Unsubscribe(id)

	ps.logger.WithFields(logrus.Fields{
		"subscriber": id,
		"user":       requestUser(r),
	}).Debug("Events subscriber connected")

	// The read loop exists only to detect disconnect; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// A new subscriber gets the full current state, not a diff.
	current := ps.serializer.Current()
	if err := writeState(conn, current); err != nil {
		return
	}

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	lastRevision := current.Revision
	for {
		select {
		case st := <-updates:
			// The hub guarantees non-decreasing revisions; skip anything
			// already sent in the initial snapshot race.
			if st.Revision != 0 && st.Revision <= lastRevision {
				continue
			}
			lastRevision = st.Revision
			if err := writeState(conn, st); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeState(conn *websocket.Conn, st interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	return conn.WriteJSON(st)
}
