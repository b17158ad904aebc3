package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Session binds one player to one physical connection. The identity fields
// (PlayerID, GuestID, DisplayName, RoomID, SeatIndex) are stable across
// transport swaps; the transport fields are rebound by ResetForReconnect.
//
// Identity fields are written only while the owning registry or room lock is
// held; the mutex below guards just the transport state.
type Session struct {
	ConnectionID string
	PlayerID     string
	GuestID      string
	DisplayName  string
	RoomID       string
	SeatIndex    int
	IsHost       bool
	IsReady      bool

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	lastHeartbeat time.Time
	outbound      chan []byte
	pumpStop      chan struct{}
	pumpStopped   bool
	queueSize     int
}

func newSession(connectionID string, conn *websocket.Conn, queueSize int) *Session {
	s := &Session{
		ConnectionID:  connectionID,
		SeatIndex:     -1,
		conn:          conn,
		connected:     true,
		lastHeartbeat: time.Now(),
		outbound:      make(chan []byte, queueSize),
		pumpStop:      make(chan struct{}),
		queueSize:     queueSize,
	}
	if conn != nil {
		go writePump(conn, s.outbound, s.pumpStop)
	}
	return s
}

// writePump drains one outbound queue onto one transport. It captures its
// channel and stop signal at spawn so a concurrent rebind cannot redirect it.
func writePump(conn *websocket.Conn, outbound <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case data := <-outbound:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// Send enqueues a message for the write pump. It never blocks the caller: a
// full or dead queue drops the message instead of stalling whoever holds the
// room lock. Returns false when the message was dropped.
func (s *Session) Send(msgType string, payload interface{}) bool {
	data, err := json.Marshal(ServerMessage{Type: msgType, Payload: payload})
	if err != nil {
		log.Printf("Failed to marshal %s for %s: %v", msgType, s.ConnectionID, err)
		return false
	}

	s.mu.Lock()
	ch := s.outbound
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		return false
	}

	select {
	case ch <- data:
		return true
	default:
		return false
	}
}

func (s *Session) UpdateHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// IsTimeout reports whether the last heartbeat is older than d.
func (s *Session) IsTimeout(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastHeartbeat) > d
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// stopPump signals the write pump to exit. Idempotent, and safe to call
// concurrently with the pump's own exit on a write error.
func (s *Session) stopPump() {
	s.mu.Lock()
	s.stopPumpLocked()
	s.mu.Unlock()
}

func (s *Session) stopPumpLocked() {
	if !s.pumpStopped {
		s.pumpStopped = true
		close(s.pumpStop)
	}
}

// ResetForReconnect rebinds this session to a new transport, force-closing
// the previous one. Every stable field is left untouched; the outbound queue
// is replaced so nothing queued for the dead socket leaks onto the new one.
func (s *Session) ResetForReconnect(conn *websocket.Conn, connectionID string) {
	s.mu.Lock()
	old := s.conn
	s.stopPumpLocked()

	s.conn = conn
	s.ConnectionID = connectionID
	s.connected = true
	s.lastHeartbeat = time.Now()
	s.outbound = make(chan []byte, s.queueSize)
	s.pumpStop = make(chan struct{})
	s.pumpStopped = false
	if conn != nil {
		go writePump(conn, s.outbound, s.pumpStop)
	}
	s.mu.Unlock()

	if old != nil && old != conn {
		old.Close(websocket.StatusPolicyViolation, "superseded by reconnect")
	}
}

// detachTransport stops this session's pump and surrenders its connection
// without closing it, so another session can adopt the socket.
func (s *Session) detachTransport() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPumpLocked()
	conn := s.conn
	s.conn = nil
	s.connected = false
	return conn
}

// markDisconnected tears down the transport without touching identity,
// leaving the session eligible for quarantine.
func (s *Session) markDisconnected() {
	s.close(websocket.StatusNormalClosure, "disconnected")
}

func (s *Session) close(status websocket.StatusCode, reason string) {
	s.mu.Lock()
	s.connected = false
	s.stopPumpLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close(status, reason)
	}
}
