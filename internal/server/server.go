package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"tienlen-server/internal/config"
)

// Server owns the connection/player/room indices and routes every request to
// the right room under the right lock.
//
// Lock ordering: the registry mutex is taken first and briefly, only to
// resolve indices; room locks are taken after it is released (or, for the
// atomic index repoints during reconnection, nested inside a room lock —
// safe because no path ever waits on a room lock while holding the registry).
type Server struct {
	cfg      *config.Config
	metrics  *Metrics
	limiters *RateLimiters
	archive  *Archive

	heartbeat *HeartbeatMonitor
	startedAt time.Time

	mu         sync.RWMutex
	sessions   map[string]*Session // ConnectionID → live session
	players    map[string]*Session // PlayerID → live session
	rooms      map[string]*Room    // room code → room
	usedCodes  map[string]bool
	quarantine map[string]*quarantineEntry // PlayerID → quarantined session
}

type quarantineEntry struct {
	session *Session
	since   time.Time
}

func New(cfg *config.Config) *Server {
	s := &Server{
		cfg:        cfg,
		metrics:    NewMetrics(),
		limiters:   NewRateLimiters(cfg),
		startedAt:  time.Now(),
		sessions:   make(map[string]*Session),
		players:    make(map[string]*Session),
		rooms:      make(map[string]*Room),
		usedCodes:  make(map[string]bool),
		quarantine: make(map[string]*quarantineEntry),
	}
	s.heartbeat = NewHeartbeatMonitor(s, cfg.HeartbeatInterval)
	return s
}

// Start connects the optional archive and begins the heartbeat sweep.
func (s *Server) Start(ctx context.Context) {
	if s.cfg.DatabaseURL != "" {
		archive, err := NewArchive(ctx, s.cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: match archive unavailable: %v", err)
		} else {
			s.archive = archive
		}
	}
	s.heartbeat.Start()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.heartbeat.Stop()

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.players = make(map[string]*Session)
	s.quarantine = make(map[string]*quarantineEntry)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close(websocket.StatusGoingAway, "server shutting down")
	}

	if s.archive != nil {
		s.archive.Close()
	}
	return ctx.Err()
}

// ============================================================================
// Registry
// ============================================================================

func (s *Server) addConnection(conn *websocket.Conn) *Session {
	sess := newSession(uuid.New().String(), conn, s.cfg.SendQueueSize)

	s.mu.Lock()
	s.sessions[sess.ConnectionID] = sess
	s.mu.Unlock()

	s.metrics.activeSessions.Inc()
	return sess
}

func (s *Server) sessionByConnectionID(connectionID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[connectionID]
}

func (s *Server) roomByID(roomID string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// resetToAnonymousLocked clears a session's identity fields. Caller holds
// s.mu; identity fields are never written outside it once a session is
// registered.
func resetToAnonymousLocked(sess *Session) {
	sess.RoomID = ""
	sess.SeatIndex = -1
	sess.IsHost = false
	sess.IsReady = false
	sess.PlayerID = ""
}

func (s *Server) resolveRoom(sess *Session) (*Room, error) {
	if sess.RoomID == "" {
		return nil, stateError(CodeInvalidPlay, "not in a room")
	}
	room := s.roomByID(sess.RoomID)
	if room == nil {
		return nil, errRoomNotFound(sess.RoomID)
	}
	return room, nil
}

// ============================================================================
// Disconnect path
// ============================================================================

// disconnectByConnectionID is the single entry point for transport loss.
// It resolves whatever session currently owns the connection; a connection
// superseded by a reconnect resolves to nothing and the call is a no-op.
func (s *Server) disconnectByConnectionID(connectionID string) {
	s.mu.RLock()
	sess := s.sessions[connectionID]
	s.mu.RUnlock()
	if sess != nil {
		s.handleDisconnect(sess, connectionID)
	}
}

// handleDisconnect drops the connection mapping and, when the session is
// still the player's current one, quarantines (playing room) or removes
// (pre-game room) the player. Idempotent: a session already superseded by a
// faster reconnect is left alone.
func (s *Server) handleDisconnect(sess *Session, connectionID string) {
	s.mu.Lock()
	cur, ok := s.sessions[connectionID]
	if !ok || cur != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, connectionID)
	s.limiters.Forget(connectionID)

	playerID := sess.PlayerID
	current := playerID != "" && s.players[playerID] == sess
	var room *Room
	if current {
		room = s.rooms[sess.RoomID]
	}
	s.mu.Unlock()

	sess.markDisconnected()
	s.metrics.activeSessions.Dec()
	log.Printf("Connection closed: %s", connectionID)

	if !current {
		return
	}

	if room == nil {
		s.mu.Lock()
		if s.players[playerID] == sess {
			delete(s.players, playerID)
		}
		s.mu.Unlock()
		return
	}

	if s.detachFromRoom(sess, room, "disconnected") {
		log.Printf("Player %s (%s) disconnected from room %s, seat %d quarantined",
			playerID, sess.DisplayName, room.ID, sess.SeatIndex)
	}
}

// detachFromRoom applies the shared disconnect/leave semantics: quarantine
// with auto-play in a playing room, full seat removal pre-game. Returns true
// when the player was quarantined.
func (s *Server) detachFromRoom(sess *Session, room *Room, reason string) bool {
	playerID := sess.PlayerID
	quarantined := false

	room.Lock()
	if room.State == RoomPlaying {
		seat, err := room.MarkDisconnected(playerID)
		if err == nil {
			quarantined = true
			room.Broadcast(MsgPlayerLeft, PlayerLeftNotification{
				PlayerID: playerID,
				Name:     sess.DisplayName,
				Seat:     seat,
				Reason:   reason,
			}, playerID)
		}
	} else {
		seat := sess.SeatIndex
		newHost := room.RemovePlayer(playerID)
		room.Broadcast(MsgPlayerLeft, PlayerLeftNotification{
			PlayerID: playerID,
			Name:     sess.DisplayName,
			Seat:     seat,
			Reason:   "left",
		}, playerID)
		if newHost != "" {
			if next, ok := room.Players[newHost]; ok {
				room.Broadcast(MsgHostChanged, HostChangedNotification{
					PlayerID: newHost,
					Seat:     next.SeatIndex,
				}, "")
			}
		}
	}
	empty := room.IsEmpty()
	room.Unlock()

	s.mu.Lock()
	if s.players[playerID] == sess {
		delete(s.players, playerID)
	} else {
		quarantined = false
	}
	if quarantined {
		s.quarantine[playerID] = &quarantineEntry{session: sess, since: time.Now()}
	} else {
		resetToAnonymousLocked(sess)
	}
	s.mu.Unlock()

	if quarantined {
		s.metrics.quarantinedSessions.Inc()
	}

	if empty {
		s.destroyRoom(room.ID, "empty")
	}
	return quarantined
}

// destroyRoom tears a room down, purging its quarantine entries and resetting
// any still-live members to anonymous.
func (s *Server) destroyRoom(roomID, why string) {
	s.mu.Lock()
	room := s.rooms[roomID]
	if room == nil {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, roomID)
	delete(s.usedCodes, roomID)

	purged := 0
	for pid, entry := range s.quarantine {
		if entry.session.RoomID == roomID {
			delete(s.quarantine, pid)
			resetToAnonymousLocked(entry.session)
			purged++
		}
	}
	s.mu.Unlock()

	room.Lock()
	room.cancelAllAutoPlay()
	members := make([]*Session, 0, len(room.Players))
	for _, sess := range room.Players {
		members = append(members, sess)
	}
	room.Players = make(map[string]*Session)
	room.Unlock()

	s.mu.Lock()
	for _, sess := range members {
		if s.players[sess.PlayerID] == sess {
			delete(s.players, sess.PlayerID)
		}
		resetToAnonymousLocked(sess)
	}
	s.mu.Unlock()

	for _, sess := range members {
		sess.Send(MsgError, ErrorMessage{Code: CodeRoomNotFound, Message: "room closed: " + why})
	}

	s.metrics.activeRooms.Dec()
	s.metrics.quarantinedSessions.Sub(float64(purged))
	log.Printf("Room %s destroyed (%s), %d quarantine entries purged", roomID, why, purged)
}

// ============================================================================
// Reconnection protocol
// ============================================================================

// findReconnectTargetLocked locates the session a reconnect request refers
// to, either quarantined or still live (a racing second connection for the
// same GuestID). Caller holds s.mu.
func (s *Server) findReconnectTargetLocked(playerID, guestID, roomCode string) (*Session, bool) {
	if playerID != "" {
		if entry, ok := s.quarantine[playerID]; ok {
			return entry.session, true
		}
		if live, ok := s.players[playerID]; ok {
			return live, false
		}
		return nil, false
	}
	if guestID == "" {
		return nil, false
	}
	for _, entry := range s.quarantine {
		if entry.session.GuestID == guestID && (roomCode == "" || entry.session.RoomID == roomCode) {
			return entry.session, true
		}
	}
	for _, live := range s.players {
		if live.GuestID == guestID && (roomCode == "" || live.RoomID == roomCode) {
			return live, false
		}
	}
	return nil, false
}

// performReconnect adopts `target` as the identity for the transport
// currently bound to `bare`. Both reconnect cases reduce to this: discard the
// bare session, rebind the stable one, repoint the indices, end with exactly
// one live Session for the PlayerID and a full snapshot on the new socket.
func (s *Server) performReconnect(bare, target *Session) error {
	s.mu.RLock()
	room := s.rooms[target.RoomID]
	s.mu.RUnlock()
	if room == nil {
		return sessionError("no active game to reconnect to")
	}

	playerID := target.PlayerID
	newConnectionID := bare.ConnectionID

	room.Lock()
	if room.State != RoomPlaying {
		room.Unlock()
		return errGameNotStarted()
	}

	// Repoint the indices atomically with respect to the registry. The
	// nested acquisition is safe; see the lock-ordering note on Server.
	s.mu.Lock()
	_, wasQuarantined := s.quarantine[playerID]
	stillLive := s.players[playerID] == target
	if !wasQuarantined && !stillLive {
		s.mu.Unlock()
		room.Unlock()
		return sessionError("no session to reconnect")
	}
	oldConnectionID := target.ConnectionID
	evictedLive := false
	if oldConnectionID != newConnectionID {
		if _, ok := s.sessions[oldConnectionID]; ok {
			delete(s.sessions, oldConnectionID)
			evictedLive = true
		}
		s.limiters.Forget(oldConnectionID)
	}
	s.sessions[newConnectionID] = target
	delete(s.quarantine, playerID)
	s.players[playerID] = target
	s.mu.Unlock()

	// Hand the transport over: the bare session keeps nothing, the stable
	// session force-closes its stale socket (racing-reconnect case) and
	// rebinds.
	if bare != target {
		conn := bare.detachTransport()
		target.ResetForReconnect(conn, newConnectionID)
	} else {
		target.UpdateHeartbeat()
	}

	room.Reinsert(target)
	room.RetriggerAutoPlayIfNeeded(playerID)
	state, err := room.GetReconnectState(playerID)
	if err == nil {
		room.Broadcast(MsgPlayerJoined, PlayerJoinedNotification{
			PlayerID: playerID,
			Name:     target.DisplayName,
			Seat:     target.SeatIndex,
		}, playerID)
	}
	room.Unlock()

	if err != nil {
		return err
	}

	target.Send(MsgReconnectSuccess, state)
	if wasQuarantined {
		s.metrics.quarantinedSessions.Dec()
	}
	if evictedLive {
		// The superseded connection left the registry here; its read loop's
		// own disconnect will resolve to nothing.
		s.metrics.activeSessions.Dec()
	}
	s.metrics.reconnectsTotal.Inc()
	log.Printf("Player %s (%s) reconnected to room %s on connection %s",
		playerID, target.DisplayName, room.ID, newConnectionID)
	return nil
}

// ============================================================================
// Auto-play
// ============================================================================

// fireAutoPlay runs when a seat's auto-play timer lapses. Same lock ordering
// as a request: resolve the room through the registry, then mutate under the
// room lock.
func (s *Server) fireAutoPlay(roomID string, seat int) {
	room := s.roomByID(roomID)
	if room == nil {
		return
	}

	room.Lock()
	room.cancelAutoPlay(seat)
	acted, err := room.performAutoAction(seat)
	if err != nil {
		log.Printf("Auto-play for room %s seat %d failed: %v", roomID, seat, err)
		room.Unlock()
		return
	}
	var record *MatchRecord
	if acted {
		s.afterGameActionLocked(room, &record)
	}
	room.maybeArmAutoPlay()
	room.Unlock()

	s.archiveMatch(record)
}

// afterGameActionLocked broadcasts the post-mutation state and, when the
// match just finished, the final scores. Caller holds the room lock; the
// archive record is only built here and written after the lock is released.
func (s *Server) afterGameActionLocked(room *Room, record **MatchRecord) {
	room.BroadcastGameState()

	match := room.Match()
	if match == nil || !match.Finished() {
		return
	}

	room.Broadcast(MsgGameEnded, GameEndedNotification{
		WinnerSeat: match.Winner(),
		Scores:     match.Scores(),
	}, "")

	if s.archive != nil && record != nil && *record == nil {
		*record = buildMatchRecord(room)
	}
}

// ============================================================================
// Snapshots
// ============================================================================

type RoomStats struct {
	RoomCode string `json:"roomCode"`
	State    string `json:"state"`
	Phase    string `json:"phase,omitempty"`
	Players  int    `json:"players"`
	Seats    int    `json:"seats"`
}

type StatsSnapshot struct {
	RoomCount        int         `json:"roomCount"`
	PlayerCount      int         `json:"playerCount"`
	QuarantinedCount int         `json:"quarantinedCount"`
	Rooms            []RoomStats `json:"rooms"`
}

// Stats copies the registry and then visits each room briefly; no room lock
// is held longer than its own copy.
func (s *Server) Stats() StatsSnapshot {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	snap := StatsSnapshot{
		PlayerCount:      len(s.players),
		QuarantinedCount: len(s.quarantine),
		RoomCount:        len(s.rooms),
	}
	s.mu.RUnlock()

	for _, room := range rooms {
		room.Lock()
		stats := RoomStats{
			RoomCode: room.ID,
			State:    string(room.State),
			Players:  len(room.Players),
			Seats:    room.MaxPlayers,
		}
		if m := room.Match(); m != nil {
			stats.Phase = string(m.Phase())
		}
		room.Unlock()
		snap.Rooms = append(snap.Rooms, stats)
	}
	return snap
}

type HealthSnapshot struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptimeSeconds"`
	RoomCount        int    `json:"roomCount"`
	SessionCount     int    `json:"sessionCount"`
	QuarantinedCount int    `json:"quarantinedCount"`
	ArchiveEnabled   bool   `json:"archiveEnabled"`
	ArchiveHealthy   bool   `json:"archiveHealthy"`
}

func (s *Server) Health(ctx context.Context) HealthSnapshot {
	s.mu.RLock()
	snap := HealthSnapshot{
		Status:           "up",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		RoomCount:        len(s.rooms),
		SessionCount:     len(s.sessions),
		QuarantinedCount: len(s.quarantine),
	}
	s.mu.RUnlock()

	if s.archive != nil {
		snap.ArchiveEnabled = true
		snap.ArchiveHealthy = s.archive.Ping(ctx) == nil
	}
	return snap
}

// buildMatchRecord snapshots a finished match for the archive. Caller holds
// the room lock; the copy is complete so the write can happen outside it.
func buildMatchRecord(room *Room) *MatchRecord {
	match := room.Match()
	if match == nil {
		return nil
	}

	players := make([]string, room.MaxPlayers)
	for i := 0; i < room.MaxPlayers; i++ {
		players[i] = room.seatNames[i]
	}

	snap := match.Snapshot(-1) // public view, no hand
	return &MatchRecord{
		RoomCode:   room.ID,
		Players:    players,
		WinnerSeat: match.Winner(),
		Scores:     match.Scores(),
		Final:      snap,
		StartedAt:  room.CreatedAt,
		FinishedAt: time.Now(),
	}
}

func (s *Server) archiveMatch(record *MatchRecord) {
	if record == nil || s.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.archive.SaveMatch(ctx, record); err != nil {
			log.Printf("Failed to archive match for room %s: %v", record.RoomCode, err)
		}
	}()
}
