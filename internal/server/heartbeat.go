package server

import (
	"log"
	"sync"
	"time"
)

// HeartbeatMonitor periodically sweeps for dead connections, lapsed
// quarantine entries and abandoned rooms. Each sweep step copies what it
// needs under one lock and acts after releasing it, so the sweep follows the
// same lock ordering as any request and can never deadlock against one.
type HeartbeatMonitor struct {
	server   *Server
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

func NewHeartbeatMonitor(server *Server, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		server:   server,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (h *HeartbeatMonitor) Start() {
	go h.run()
}

func (h *HeartbeatMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *HeartbeatMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stop:
			return
		}
	}
}

func (h *HeartbeatMonitor) sweep() {
	h.sweepStaleSessions()
	h.sweepQuarantine()
	h.sweepRooms()
	h.server.limiters.Cleanup()
}

// sweepStaleSessions funnels silent connections through the same disconnect
// path a closed socket takes.
func (h *HeartbeatMonitor) sweepStaleSessions() {
	s := h.server
	timeout := s.cfg.DisconnectTimeout

	type stale struct {
		sess         *Session
		connectionID string
	}
	var dead []stale

	s.mu.RLock()
	for connectionID, sess := range s.sessions {
		if sess.IsTimeout(timeout) {
			dead = append(dead, stale{sess, connectionID})
		}
	}
	s.mu.RUnlock()

	for _, d := range dead {
		log.Printf("Connection %s timed out, disconnecting", d.connectionID)
		d.sess.close(4000, "heartbeat timeout")
		s.handleDisconnect(d.sess, d.connectionID)
	}
}

// sweepQuarantine frees the seats of players whose reconnect window lapsed.
// The seat stays on auto-play for the rest of the match.
func (h *HeartbeatMonitor) sweepQuarantine() {
	s := h.server
	window := s.cfg.ReconnectWindow
	now := time.Now()

	// The seat and room the entry refers to are captured under s.mu; the
	// session itself is reset to anonymous there as well, so the room
	// teardown below never reads half-cleared identity fields.
	type lapsed struct {
		playerID string
		name     string
		roomID   string
		seat     int
	}
	var expired []lapsed
	s.mu.Lock()
	for playerID, entry := range s.quarantine {
		if now.Sub(entry.since) > window {
			delete(s.quarantine, playerID)
			sess := entry.session
			expired = append(expired, lapsed{
				playerID: sess.PlayerID,
				name:     sess.DisplayName,
				roomID:   sess.RoomID,
				seat:     sess.SeatIndex,
			})
			resetToAnonymousLocked(sess)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		s.metrics.quarantinedSessions.Dec()

		room := s.roomByID(e.roomID)
		if room != nil {
			room.Lock()
			room.FreeSeat(e.playerID, e.seat)
			room.Broadcast(MsgPlayerLeft, PlayerLeftNotification{
				PlayerID: e.playerID,
				Name:     e.name,
				Seat:     e.seat,
				Reason:   "timeout",
			}, "")
			room.Unlock()
		}

		log.Printf("Reconnect window lapsed for player %s, seat %d released",
			e.playerID, e.seat)
	}
}

// sweepRooms destroys rooms that are empty or idle past the configured
// timeout.
func (h *HeartbeatMonitor) sweepRooms() {
	s := h.server
	idle := s.cfg.RoomIdleTimeout

	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.RUnlock()

	for _, room := range rooms {
		room.Lock()
		empty := room.IsEmpty()
		stale := room.IsIdle(idle)
		room.Unlock()

		switch {
		case empty:
			s.destroyRoom(room.ID, "empty")
		case stale:
			s.destroyRoom(room.ID, "idle timeout")
		}
	}
}
