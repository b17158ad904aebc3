package server

import (
	"errors"
	"sync"
	"time"

	"tienlen-server/internal/tienlen"
)

type RoomState string

const (
	RoomWaiting RoomState = "waiting"
	RoomPlaying RoomState = "playing"
)

// Room is the authority over one game instance. Every exported method assumes
// the caller already holds mu for the whole mutate-then-broadcast sequence;
// the server acquires it after resolving the room through the registry, never
// the other way around.
type Room struct {
	ID         string
	State      RoomState
	MaxPlayers int

	// Players holds live, connected members only. A quarantined PlayerID is
	// removed from here but keeps its seat below until the reconnect window
	// lapses.
	Players map[string]*Session

	CreatedAt    time.Time
	LastActivity time.Time

	hostID        string
	seatPlayerIDs []string
	seatNames     []string

	match        *tienlen.Match
	restartVotes map[string]bool

	autoTimers    map[int]*time.Timer
	autoByDrop    map[int]bool
	autoPlayDelay time.Duration
	onAutoPlay    func(seat int)

	// onDropped observes outbound messages lost to full send queues.
	onDropped func(n int)

	mu sync.Mutex
}

func newRoom(id string, maxPlayers int, autoPlayDelay time.Duration, onAutoPlay func(seat int)) *Room {
	now := time.Now()
	return &Room{
		ID:            id,
		State:         RoomWaiting,
		MaxPlayers:    maxPlayers,
		Players:       make(map[string]*Session),
		CreatedAt:     now,
		LastActivity:  now,
		seatPlayerIDs: make([]string, maxPlayers),
		seatNames:     make([]string, maxPlayers),
		restartVotes:  make(map[string]bool),
		autoTimers:    make(map[int]*time.Timer),
		autoByDrop:    make(map[int]bool),
		autoPlayDelay: autoPlayDelay,
		onAutoPlay:    onAutoPlay,
	}
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

func (r *Room) touch() {
	r.LastActivity = time.Now()
}

// AddPlayer seats a session on the lowest free seat. Waiting rooms only;
// joins during play go through the reconnect path instead.
func (r *Room) AddPlayer(sess *Session) error {
	if r.State != RoomWaiting {
		return stateError(CodeInvalidPlay, "cannot join a game in progress")
	}

	seat := -1
	for i := 0; i < r.MaxPlayers; i++ {
		if r.seatPlayerIDs[i] == "" {
			seat = i
			break
		}
	}
	if seat == -1 {
		return errRoomFull()
	}

	sess.RoomID = r.ID
	sess.SeatIndex = seat
	sess.IsReady = false
	sess.IsHost = len(r.Players) == 0
	if sess.IsHost {
		r.hostID = sess.PlayerID
	}

	r.seatPlayerIDs[seat] = sess.PlayerID
	r.seatNames[seat] = sess.DisplayName
	r.Players[sess.PlayerID] = sess
	r.touch()

	return nil
}

// RemovePlayer frees a seat entirely (pre-game semantics). If the leaver was
// host, the lowest remaining connected seat inherits; the new host PlayerID
// is returned, or "" if no transfer happened.
func (r *Room) RemovePlayer(playerID string) string {
	sess, ok := r.Players[playerID]
	if !ok {
		return ""
	}

	delete(r.Players, playerID)
	if sess.SeatIndex >= 0 && sess.SeatIndex < r.MaxPlayers {
		r.seatPlayerIDs[sess.SeatIndex] = ""
		r.seatNames[sess.SeatIndex] = ""
	}
	delete(r.restartVotes, playerID)
	r.touch()

	if r.hostID != playerID {
		return ""
	}

	r.hostID = ""
	for i := 0; i < r.MaxPlayers; i++ {
		pid := r.seatPlayerIDs[i]
		if pid == "" {
			continue
		}
		next, ok := r.Players[pid]
		if !ok {
			continue
		}
		r.hostID = pid
		next.IsHost = true
		next.IsReady = false
		return pid
	}
	return ""
}

// MarkDisconnected removes a player from the live map but keeps the seat, so
// the game continues with the seat under auto-play. Playing rooms only.
func (r *Room) MarkDisconnected(playerID string) (int, error) {
	sess, ok := r.Players[playerID]
	if !ok {
		return -1, sessionError("player %s is not in room %s", playerID, r.ID)
	}

	delete(r.Players, playerID)
	delete(r.restartVotes, playerID)
	r.touch()

	seat := sess.SeatIndex
	if r.match != nil {
		r.match.SetAuto(seat, true)
		r.autoByDrop[seat] = true
		r.maybeArmAutoPlay()
	}
	return seat, nil
}

// Reinsert puts a quarantined (or rebound) session back into the live map
// under its original PlayerID and seat.
func (r *Room) Reinsert(sess *Session) {
	r.Players[sess.PlayerID] = sess
	if sess.SeatIndex >= 0 && sess.SeatIndex < len(r.seatPlayerIDs) {
		r.seatPlayerIDs[sess.SeatIndex] = sess.PlayerID
		r.seatNames[sess.SeatIndex] = sess.DisplayName
	}
	r.touch()
}

// FreeSeat permanently releases a quarantined player's seat after the
// reconnect window lapses. The seat stays in auto-play for the rest of the
// match.
func (r *Room) FreeSeat(playerID string, seat int) {
	if seat >= 0 && seat < r.MaxPlayers && r.seatPlayerIDs[seat] == playerID {
		r.seatPlayerIDs[seat] = ""
		r.seatNames[seat] = ""
	}
	delete(r.restartVotes, playerID)
	r.touch()
}

func (r *Room) IsFull() bool {
	for i := 0; i < r.MaxPlayers; i++ {
		if r.seatPlayerIDs[i] == "" {
			return false
		}
	}
	return true
}

func (r *Room) IsEmpty() bool {
	return len(r.Players) == 0
}

func (r *Room) IsIdle(d time.Duration) bool {
	return time.Since(r.LastActivity) > d
}

func (r *Room) SetPlayerReady(playerID string, ready bool) error {
	if r.State != RoomWaiting {
		return stateError(CodeInvalidPlay, "cannot change ready state after the game starts")
	}
	sess, ok := r.Players[playerID]
	if !ok {
		return sessionError("player %s is not in room %s", playerID, r.ID)
	}
	sess.IsReady = ready
	r.touch()
	return nil
}

// IsAllPlayersReady is trivially true for a single occupied seat, which keeps
// solo rooms startable.
func (r *Room) IsAllPlayersReady() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, sess := range r.Players {
		if !sess.IsReady {
			return false
		}
	}
	return true
}

// Broadcast fans a message out to every live seat except excludePlayerID.
// Sends enqueue without blocking; a slow client drops messages rather than
// stalling the lock holder.
func (r *Room) Broadcast(msgType string, payload interface{}, excludePlayerID string) int {
	dropped := 0
	for pid, sess := range r.Players {
		if pid == excludePlayerID {
			continue
		}
		if !sess.Send(msgType, payload) {
			dropped++
		}
	}
	if dropped > 0 && r.onDropped != nil {
		r.onDropped(dropped)
	}
	return dropped
}

// BroadcastGameState sends each live seat its own view of the match.
func (r *Room) BroadcastGameState() {
	if r.match == nil {
		return
	}
	dropped := 0
	for _, sess := range r.Players {
		snap := r.match.Snapshot(sess.SeatIndex)
		if !sess.Send(MsgGameState, GameStateMessage{
			RoomCode: r.ID,
			State:    string(r.State),
			Game:     snap,
		}) {
			dropped++
		}
	}
	if dropped > 0 && r.onDropped != nil {
		r.onDropped(dropped)
	}
}

func (r *Room) Roster() []SeatInfo {
	roster := make([]SeatInfo, 0, r.MaxPlayers)
	for i := 0; i < r.MaxPlayers; i++ {
		pid := r.seatPlayerIDs[i]
		if pid == "" {
			continue
		}
		info := SeatInfo{
			PlayerID: pid,
			Name:     r.seatNames[i],
			Seat:     i,
			IsHost:   pid == r.hostID,
		}
		if sess, ok := r.Players[pid]; ok {
			info.Ready = sess.IsReady
			info.Connected = true
		}
		if r.match != nil {
			info.Auto = r.match.Auto(i)
		}
		roster = append(roster, info)
	}
	return roster
}

// GetReconnectState builds the full snapshot a reconnecting client applies
// from blank state: roster, phase, the seat's own hand and the public board.
func (r *Room) GetReconnectState(playerID string) (ReconnectState, error) {
	sess, ok := r.Players[playerID]
	if !ok {
		return ReconnectState{}, sessionError("player %s is not in room %s", playerID, r.ID)
	}

	state := ReconnectState{
		RoomCode: r.ID,
		State:    string(r.State),
		PlayerID: sess.PlayerID,
		GuestID:  sess.GuestID,
		Seat:     sess.SeatIndex,
		IsHost:   sess.IsHost,
		Roster:   r.Roster(),
	}
	if r.match != nil {
		snap := r.match.Snapshot(sess.SeatIndex)
		state.Game = &snap
	}
	return state, nil
}

// StartGame compacts seats and spins up the match. Caller has already
// verified host and readiness.
func (r *Room) StartGame() error {
	if r.State != RoomWaiting {
		return stateError(CodeInvalidPlay, "game already started")
	}

	// Compact occupied seats to 0..n-1 so match seat indexes line up.
	next := 0
	for i := 0; i < r.MaxPlayers; i++ {
		pid := r.seatPlayerIDs[i]
		if pid == "" {
			continue
		}
		if i != next {
			r.seatPlayerIDs[next] = pid
			r.seatNames[next] = r.seatNames[i]
			r.seatPlayerIDs[i] = ""
			r.seatNames[i] = ""
		}
		if sess, ok := r.Players[pid]; ok {
			sess.SeatIndex = next
		}
		next++
	}

	r.match = tienlen.NewMatch(next)
	r.State = RoomPlaying
	r.restartVotes = make(map[string]bool)
	r.touch()
	return nil
}

// VoteRestart records a restart opt-in. The restart commits only once every
// currently connected seat has opted in.
func (r *Room) VoteRestart(playerID string) (done bool, votes int, needed int, err error) {
	if r.State != RoomPlaying {
		return false, 0, 0, errGameNotStarted()
	}
	if _, ok := r.Players[playerID]; !ok {
		return false, 0, 0, sessionError("player %s is not in room %s", playerID, r.ID)
	}

	r.restartVotes[playerID] = true
	r.touch()

	votes = 0
	for pid := range r.Players {
		if r.restartVotes[pid] {
			votes++
		}
	}
	needed = len(r.Players)
	return votes == needed, votes, needed, nil
}

// ResetForRestart returns the room to Waiting: match gone, votes and ready
// flags cleared, auto timers stopped. Quarantined seats are freed; their
// reconnect target no longer exists.
func (r *Room) ResetForRestart() {
	r.cancelAllAutoPlay()
	r.match = nil
	r.State = RoomWaiting
	r.restartVotes = make(map[string]bool)
	r.autoByDrop = make(map[int]bool)

	for i := 0; i < r.MaxPlayers; i++ {
		pid := r.seatPlayerIDs[i]
		if pid == "" {
			continue
		}
		if sess, ok := r.Players[pid]; ok {
			sess.IsReady = false
		} else {
			r.seatPlayerIDs[i] = ""
			r.seatNames[i] = ""
		}
	}
	r.touch()
}

func (r *Room) Match() *tienlen.Match {
	return r.match
}

func (r *Room) seatOf(playerID string) (int, error) {
	for i := 0; i < r.MaxPlayers; i++ {
		if r.seatPlayerIDs[i] == playerID {
			return i, nil
		}
	}
	return -1, sessionError("player %s holds no seat in room %s", playerID, r.ID)
}

// mapMatchError converts collaborator errors into the wire taxonomy.
func mapMatchError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, tienlen.ErrWrongPhase),
		errors.Is(err, tienlen.ErrNotYourTurn),
		errors.Is(err, tienlen.ErrInvalidPlay),
		errors.Is(err, tienlen.ErrBadSeat):
		return stateError(CodeInvalidPlay, "%s", err.Error())
	default:
		return err
	}
}

func (r *Room) HandleSelectFirstDealerCard(playerID string, cardIndex int) error {
	if r.match == nil {
		return errGameNotStarted()
	}
	seat, err := r.seatOf(playerID)
	if err != nil {
		return err
	}
	if _, _, err := r.match.SelectDealerCard(seat, cardIndex); err != nil {
		return mapMatchError(err)
	}
	r.touch()
	r.maybeArmAutoPlay()
	return nil
}

func (r *Room) HandleDealerCall(playerID string, call int) error {
	if r.match == nil {
		return errGameNotStarted()
	}
	seat, err := r.seatOf(playerID)
	if err != nil {
		return err
	}
	if err := r.match.DealerCall(seat, call); err != nil {
		return mapMatchError(err)
	}
	r.touch()
	r.maybeArmAutoPlay()
	return nil
}

func (r *Room) HandlePlayCards(playerID string, cards []tienlen.Card) error {
	if r.match == nil {
		return errGameNotStarted()
	}
	seat, err := r.seatOf(playerID)
	if err != nil {
		return err
	}
	if err := r.match.Play(seat, cards); err != nil {
		return mapMatchError(err)
	}
	r.touch()
	r.maybeArmAutoPlay()
	return nil
}

func (r *Room) HandleSetAuto(playerID string, auto bool) error {
	if r.match == nil {
		return errGameNotStarted()
	}
	seat, err := r.seatOf(playerID)
	if err != nil {
		return err
	}
	if err := r.match.SetAuto(seat, auto); err != nil {
		return mapMatchError(err)
	}
	if !auto {
		delete(r.autoByDrop, seat)
		r.cancelAutoPlay(seat)
	}
	r.touch()
	r.maybeArmAutoPlay()
	return nil
}

// RetriggerAutoPlayIfNeeded re-arms or cancels a seat's auto-play timer after
// a disconnect/reconnect cycle. A reconnect clears auto that the disconnect
// itself set, but leaves a player's own set_auto choice alone.
func (r *Room) RetriggerAutoPlayIfNeeded(playerID string) {
	if r.match == nil {
		return
	}
	seat, err := r.seatOf(playerID)
	if err != nil {
		return
	}

	if r.autoByDrop[seat] {
		delete(r.autoByDrop, seat)
		r.match.SetAuto(seat, false)
	}

	if r.match.Auto(seat) && r.match.NeedsAction(seat) {
		r.armAutoPlay(seat)
	} else {
		r.cancelAutoPlay(seat)
	}
}

// maybeArmAutoPlay arms a timer for every auto seat that currently owes the
// match an action. Idempotent per seat.
func (r *Room) maybeArmAutoPlay() {
	if r.match == nil || r.match.Finished() {
		return
	}
	for seat := 0; seat < r.match.NumSeats(); seat++ {
		if r.match.Auto(seat) && r.match.NeedsAction(seat) {
			r.armAutoPlay(seat)
		}
	}
}

func (r *Room) armAutoPlay(seat int) {
	if _, armed := r.autoTimers[seat]; armed {
		return
	}
	if r.onAutoPlay == nil {
		return
	}
	fire := r.onAutoPlay
	r.autoTimers[seat] = time.AfterFunc(r.autoPlayDelay, func() {
		fire(seat)
	})
}

func (r *Room) cancelAutoPlay(seat int) {
	if t, ok := r.autoTimers[seat]; ok {
		t.Stop()
		delete(r.autoTimers, seat)
	}
}

func (r *Room) cancelAllAutoPlay() {
	for seat, t := range r.autoTimers {
		t.Stop()
		delete(r.autoTimers, seat)
	}
}

// performAutoAction runs the stand-in action for a seat whose timer fired.
// Caller holds the room lock and has already cleared the timer entry.
// Returns whether the match was actually advanced.
func (r *Room) performAutoAction(seat int) (bool, error) {
	if r.match == nil {
		return false, errGameNotStarted()
	}
	if !r.match.Auto(seat) || !r.match.NeedsAction(seat) {
		return false, nil
	}
	if err := r.match.AutoAct(seat); err != nil {
		return false, mapMatchError(err)
	}
	r.touch()
	return true, nil
}
