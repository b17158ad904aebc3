package server

import (
	"log"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 24

func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("name is required")
	}
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return name, nil
}

// dispatch routes one decoded envelope. The session is resolved from the
// registry per message so a reconnect that repointed the connection takes
// effect on the very next frame.
func (s *Server) dispatch(connectionID string, msg ClientMessage) {
	sess := s.sessionByConnectionID(connectionID)
	if sess == nil {
		return
	}
	sess.UpdateHeartbeat()
	s.metrics.messagesTotal.WithLabelValues(msg.Type).Inc()

	if cat := categoryFor(msg.Type); cat != limitNone {
		if !s.limiters.Allow(cat, connectionID) {
			s.metrics.rateLimitedTotal.Inc()
			sess.Send(MsgError, toErrorMessage(errRateLimited()))
			return
		}
	}

	decoded, err := decodeInbound(msg.Type, msg.Payload)
	if err != nil {
		sess.Send(MsgError, toErrorMessage(validationError("%s", err.Error())))
		return
	}

	switch req := decoded.(type) {
	case *PingRequest:
		sess.Send(MsgPong, PongMessage{})
	case *CreateRoomRequest:
		err = s.handleCreateRoom(sess, req)
	case *JoinRoomRequest:
		err = s.handleJoinRoom(sess, req)
	case *ReconnectRequest:
		err = s.handleReconnect(sess, req)
	case *LeaveRoomRequest:
		err = s.handleLeaveRoom(sess)
	case *ReadyRequest:
		err = s.handleReady(sess, req)
	case *StartGameRequest:
		err = s.handleStartGame(sess)
	case *RestartGameRequest:
		err = s.handleRestartGame(sess)
	case *SelectFirstDealerCardRequest:
		err = s.handleGameAction(sess, req.PlayerID, func(room *Room) error {
			return room.HandleSelectFirstDealerCard(sess.PlayerID, req.CardIndex)
		})
	case *DealerCallRequest:
		err = s.handleGameAction(sess, req.PlayerID, func(room *Room) error {
			return room.HandleDealerCall(sess.PlayerID, req.Call)
		})
	case *PlayCardsRequest:
		err = s.handleGameAction(sess, req.PlayerID, func(room *Room) error {
			return room.HandlePlayCards(sess.PlayerID, req.Cards)
		})
	case *SetAutoRequest:
		err = s.handleGameAction(sess, req.PlayerID, func(room *Room) error {
			return room.HandleSetAuto(sess.PlayerID, req.Auto)
		})
	}

	if err != nil {
		log.Printf("Request %s from %s failed: %v", msg.Type, connectionID, err)
		sess.Send(MsgError, toErrorMessage(err))
	}
}

// ============================================================================
// Room lifecycle
// ============================================================================

func (s *Server) handleCreateRoom(sess *Session, req *CreateRoomRequest) error {
	name, err := sanitizeName(req.Name)
	if err != nil {
		return err
	}
	if sess.RoomID != "" {
		return stateError(CodeInvalidPlay, "already in a room")
	}

	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = s.cfg.MaxPlayersPerRoom
	}
	if maxPlayers < 1 || maxPlayers > s.cfg.MaxPlayersPerRoom {
		return validationError("maxPlayers must be between 1 and %d", s.cfg.MaxPlayersPerRoom)
	}

	guestID := req.GuestID
	if guestID == "" {
		guestID = uuid.New().String()
	}

	s.mu.Lock()
	if len(s.rooms) >= s.cfg.MaxRooms {
		s.mu.Unlock()
		return errServerFull()
	}
	code := GenerateRoomCode(s.usedCodes)
	roomID := code
	room := newRoom(code, maxPlayers, s.cfg.AutoPlayDelay, func(seat int) {
		s.fireAutoPlay(roomID, seat)
	})
	room.onDropped = func(n int) { s.metrics.droppedMessages.Add(float64(n)) }
	s.rooms[code] = room
	s.usedCodes[code] = true

	sess.PlayerID = uuid.New().String()
	sess.GuestID = guestID
	sess.DisplayName = name
	s.players[sess.PlayerID] = sess
	s.mu.Unlock()

	room.Lock()
	if err := room.AddPlayer(sess); err != nil {
		// Cannot happen for a fresh room; unwind anyway.
		room.Unlock()
		s.mu.Lock()
		delete(s.rooms, code)
		delete(s.usedCodes, code)
		delete(s.players, sess.PlayerID)
		sess.PlayerID = ""
		s.mu.Unlock()
		return err
	}
	seat := sess.SeatIndex
	room.Unlock()

	s.metrics.activeRooms.Inc()
	log.Printf("Room %s created by %s (%s)", code, sess.PlayerID, name)

	sess.Send(MsgRoomCreated, RoomCreatedResponse{
		RoomCode:   code,
		PlayerID:   sess.PlayerID,
		GuestID:    sess.GuestID,
		Seat:       seat,
		MaxPlayers: maxPlayers,
	})
	return nil
}

func (s *Server) handleJoinRoom(sess *Session, req *JoinRoomRequest) error {
	code := NormalizeRoomCode(req.RoomCode)
	if err := ValidateRoomCode(code); err != nil {
		return &GameError{Kind: KindValidation, Code: CodeRoomNotFound, Message: err.Error()}
	}
	if sess.RoomID != "" {
		return stateError(CodeInvalidPlay, "already in a room")
	}

	room := s.roomByID(code)
	if room == nil {
		return errRoomNotFound(code)
	}

	// A join carrying the GuestID of a player already bound to a playing room
	// is a reconnect attempt from a client that lost its PlayerID.
	if req.GuestID != "" {
		room.Lock()
		playing := room.State == RoomPlaying
		room.Unlock()
		if playing {
			s.mu.RLock()
			target, _ := s.findReconnectTargetLocked("", req.GuestID, code)
			s.mu.RUnlock()
			if target != nil && target != sess {
				return s.performReconnect(sess, target)
			}
		}
	}

	name, err := sanitizeName(req.Name)
	if err != nil {
		return err
	}

	guestID := req.GuestID
	if guestID == "" {
		guestID = uuid.New().String()
	}

	s.mu.Lock()
	sess.PlayerID = uuid.New().String()
	sess.GuestID = guestID
	sess.DisplayName = name
	s.players[sess.PlayerID] = sess
	s.mu.Unlock()

	room.Lock()
	if err := room.AddPlayer(sess); err != nil {
		room.Unlock()
		s.mu.Lock()
		delete(s.players, sess.PlayerID)
		sess.PlayerID = ""
		s.mu.Unlock()
		return err
	}
	resp := RoomJoinedResponse{
		RoomCode: code,
		PlayerID: sess.PlayerID,
		GuestID:  sess.GuestID,
		Seat:     sess.SeatIndex,
		Roster:   room.Roster(),
	}
	room.Broadcast(MsgPlayerJoined, PlayerJoinedNotification{
		PlayerID: sess.PlayerID,
		Name:     name,
		Seat:     sess.SeatIndex,
	}, sess.PlayerID)
	room.Unlock()

	log.Printf("Player %s (%s) joined room %s, seat %d", sess.PlayerID, name, code, resp.Seat)
	sess.Send(MsgRoomJoined, resp)
	return nil
}

func (s *Server) handleReconnect(sess *Session, req *ReconnectRequest) error {
	if req.PlayerID == "" && req.GuestID == "" {
		return validationError("playerId or guestId is required")
	}

	s.mu.RLock()
	target, _ := s.findReconnectTargetLocked(req.PlayerID, req.GuestID, NormalizeRoomCode(req.RoomCode))
	s.mu.RUnlock()
	if target == nil {
		return sessionError("no session to reconnect")
	}
	// A seated session may only resync itself. Adopting another identity
	// would orphan its current seat with no transport left to sweep it.
	if target != sess && sess.RoomID != "" {
		return stateError(CodeInvalidPlay, "already in a room")
	}
	return s.performReconnect(sess, target)
}

func (s *Server) handleLeaveRoom(sess *Session) error {
	room, err := s.resolveRoom(sess)
	if err != nil {
		return err
	}

	room.Lock()
	playing := room.State == RoomPlaying
	room.Unlock()

	// Leaving a playing room is a disconnect: the seat is quarantined and the
	// transport torn down with it, so the departed identity can never keep
	// driving the room from a still-open socket.
	if playing {
		log.Printf("Player %s left playing room %s, seat quarantined", sess.PlayerID, room.ID)
		s.handleDisconnect(sess, sess.ConnectionID)
		return nil
	}

	s.detachFromRoom(sess, room, "left")
	log.Printf("Player left room %s", room.ID)
	return nil
}

func (s *Server) handleReady(sess *Session, req *ReadyRequest) error {
	room, err := s.resolveRoom(sess)
	if err != nil {
		return err
	}

	room.Lock()
	if err := room.SetPlayerReady(sess.PlayerID, req.Ready); err != nil {
		room.Unlock()
		return err
	}
	room.Broadcast(MsgPlayerReady, PlayerReadyNotification{
		PlayerID: sess.PlayerID,
		Seat:     sess.SeatIndex,
		Ready:    req.Ready,
	}, "")
	room.Unlock()
	return nil
}

// ============================================================================
// Game lifecycle
// ============================================================================

func (s *Server) handleStartGame(sess *Session) error {
	room, err := s.resolveRoom(sess)
	if err != nil {
		return err
	}

	room.Lock()
	if !sess.IsHost {
		room.Unlock()
		return stateError(CodeInvalidPlay, "only the host can start the game")
	}
	if !room.IsAllPlayersReady() {
		room.Unlock()
		return stateError(CodeInvalidPlay, "not all players are ready")
	}
	if err := room.StartGame(); err != nil {
		room.Unlock()
		return err
	}
	room.Broadcast(MsgGameStarted, GameStartedNotification{RoomCode: room.ID}, "")
	room.BroadcastGameState()
	room.Unlock()

	log.Printf("Game started in room %s", room.ID)
	return nil
}

func (s *Server) handleRestartGame(sess *Session) error {
	room, err := s.resolveRoom(sess)
	if err != nil {
		return err
	}

	room.Lock()
	done, votes, needed, err := room.VoteRestart(sess.PlayerID)
	if err != nil {
		room.Unlock()
		return err
	}
	if !done {
		room.Broadcast(MsgRestartVote, RestartVoteNotification{
			PlayerID: sess.PlayerID,
			Votes:    votes,
			Needed:   needed,
		}, "")
		room.Unlock()
		return nil
	}

	room.ResetForRestart()
	room.Broadcast(MsgRoomReset, RoomResetNotification{
		RoomCode: room.ID,
		Roster:   room.Roster(),
	}, "")
	room.Unlock()

	// Freed quarantined seats have no reconnect target anymore.
	s.purgeQuarantineForRoom(room.ID)
	log.Printf("Room %s reset for a new game (%d/%d votes)", room.ID, votes, needed)
	return nil
}

func (s *Server) purgeQuarantineForRoom(roomID string) {
	s.mu.Lock()
	purged := 0
	for pid, entry := range s.quarantine {
		if entry.session.RoomID == roomID {
			delete(s.quarantine, pid)
			resetToAnonymousLocked(entry.session)
			purged++
		}
	}
	s.mu.Unlock()
	if purged > 0 {
		s.metrics.quarantinedSessions.Sub(float64(purged))
	}
}

// ============================================================================
// Game actions
// ============================================================================

// handleGameAction verifies the claimed identity, applies the mutation under
// the room lock and broadcasts the resulting state.
func (s *Server) handleGameAction(sess *Session, claimedPlayerID string, apply func(room *Room) error) error {
	if claimedPlayerID != "" && claimedPlayerID != sess.PlayerID {
		return sessionError("playerId does not match this session")
	}

	room, err := s.resolveRoom(sess)
	if err != nil {
		return err
	}

	room.Lock()
	if err := apply(room); err != nil {
		room.Unlock()
		return err
	}
	var record *MatchRecord
	s.afterGameActionLocked(room, &record)
	room.Unlock()

	s.archiveMatch(record)
	return nil
}
