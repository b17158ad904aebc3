package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backdateHeartbeat(sess *Session, by time.Duration) {
	sess.mu.Lock()
	sess.lastHeartbeat = time.Now().Add(-by)
	sess.mu.Unlock()
}

func TestSweepDisconnectsStaleSessions(t *testing.T) {
	s := newTestServer()
	s.cfg.DisconnectTimeout = time.Minute
	host, created := createTestRoom(t, s, "alice", 2)
	bob, _ := joinTestRoom(t, s, created.RoomCode, "bob")
	startTestRoom(t, s, host, bob)
	bobID := bob.PlayerID
	connID := bob.ConnectionID

	backdateHeartbeat(bob, 2*time.Minute)
	s.heartbeat.sweep()

	// The silent connection went through the normal disconnect path.
	s.mu.RLock()
	_, stillMapped := s.sessions[connID]
	_, quarantined := s.quarantine[bobID]
	s.mu.RUnlock()
	assert.False(t, stillMapped)
	assert.True(t, quarantined)
}

func TestSweepLeavesFreshSessionsAlone(t *testing.T) {
	s := newTestServer()
	s.cfg.DisconnectTimeout = time.Minute
	host, _ := createTestRoom(t, s, "alice", 2)

	s.heartbeat.sweep()

	s.mu.RLock()
	_, mapped := s.sessions[host.ConnectionID]
	s.mu.RUnlock()
	assert.True(t, mapped)
}

func TestSweepFreesSeatsAfterReconnectWindow(t *testing.T) {
	s := newTestServer()
	host, created := createTestRoom(t, s, "alice", 2)
	bob, _ := joinTestRoom(t, s, created.RoomCode, "bob")
	room := startTestRoom(t, s, host, bob)
	bobID := bob.PlayerID
	bobSeat := bob.SeatIndex
	drainSession(t, host)

	s.disconnectByConnectionID(bob.ConnectionID)

	// Lapse the window by hand.
	s.mu.Lock()
	entry, ok := s.quarantine[bobID]
	require.True(t, ok)
	entry.since = time.Now().Add(-s.cfg.ReconnectWindow - time.Minute)
	s.mu.Unlock()

	s.heartbeat.sweep()

	s.mu.RLock()
	assert.Empty(t, s.quarantine)
	s.mu.RUnlock()

	room.Lock()
	assert.Empty(t, room.seatPlayerIDs[bobSeat], "seat released")
	assert.True(t, room.Match().Auto(bobSeat), "seat plays itself for the rest of the hand")
	room.Unlock()

	assert.Contains(t, messageTypes(drainSession(t, host)), MsgPlayerLeft)

	// The lapsed session left the sweep fully anonymous.
	assert.Empty(t, bob.PlayerID)
	assert.Empty(t, bob.RoomID)
	assert.Equal(t, -1, bob.SeatIndex)

	// The lapsed session cannot be reconnected to anymore.
	fresh := connect(s)
	assert.Error(t, s.handleReconnect(fresh, &ReconnectRequest{PlayerID: bobID}))
}

func TestSweepKeepsQuarantineInsideWindow(t *testing.T) {
	s := newTestServer()
	host, created := createTestRoom(t, s, "alice", 2)
	bob, _ := joinTestRoom(t, s, created.RoomCode, "bob")
	startTestRoom(t, s, host, bob)
	bobID := bob.PlayerID

	s.disconnectByConnectionID(bob.ConnectionID)
	s.heartbeat.sweep()

	s.mu.RLock()
	_, quarantined := s.quarantine[bobID]
	s.mu.RUnlock()
	assert.True(t, quarantined)
}

func TestSweepDestroysIdleRooms(t *testing.T) {
	s := newTestServer()
	s.cfg.RoomIdleTimeout = time.Minute
	host, created := createTestRoom(t, s, "alice", 2)

	room := s.roomByID(created.RoomCode)
	room.Lock()
	room.LastActivity = time.Now().Add(-time.Hour)
	room.Unlock()

	s.heartbeat.sweep()

	assert.Nil(t, s.roomByID(created.RoomCode))
	// The abandoned member is told and reset to anonymous.
	assert.Contains(t, messageTypes(drainSession(t, host)), MsgError)
	assert.Empty(t, host.RoomID)
}

func TestSweepKeepsActiveRooms(t *testing.T) {
	s := newTestServer()
	_, created := createTestRoom(t, s, "alice", 2)

	s.heartbeat.sweep()

	assert.NotNil(t, s.roomByID(created.RoomCode))
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	s := newTestServer()
	s.heartbeat.Start()
	s.heartbeat.Stop()
	s.heartbeat.Stop()
}
