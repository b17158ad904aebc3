package server

import "tienlen-server/internal/tienlen"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ============================================================================
// PING (ping) / PONG (pong)
// ============================================================================
type PingRequest struct{}

type PongMessage struct{}

// ============================================================================
// CREATE ROOM (create_room)
// ============================================================================
type CreateRoomRequest struct {
	Name       string `json:"name"`
	GuestID    string `json:"guestId,omitempty"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
}

type RoomCreatedResponse struct {
	RoomCode   string `json:"roomCode"`
	PlayerID   string `json:"playerId"`
	GuestID    string `json:"guestId"`
	Seat       int    `json:"seat"`
	MaxPlayers int    `json:"maxPlayers"`
}

// ============================================================================
// JOIN ROOM (join_room)
// ============================================================================
type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
	GuestID  string `json:"guestId,omitempty"`
}

type RoomJoinedResponse struct {
	RoomCode string     `json:"roomCode"`
	PlayerID string     `json:"playerId"`
	GuestID  string     `json:"guestId"`
	Seat     int        `json:"seat"`
	Roster   []SeatInfo `json:"roster"`
}

// ============================================================================
// RECONNECT (reconnect)
// ============================================================================
type ReconnectRequest struct {
	RoomCode string `json:"roomCode,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	GuestID  string `json:"guestId,omitempty"`
}

// ReconnectState is the full snapshot sent on reconnect_success. It is always
// the complete picture, never a delta: the reconnecting client cannot know
// what it missed.
type ReconnectState struct {
	RoomCode string            `json:"roomCode"`
	State    string            `json:"state"`
	PlayerID string            `json:"playerId"`
	GuestID  string            `json:"guestId"`
	Seat     int               `json:"seat"`
	IsHost   bool              `json:"isHost"`
	Roster   []SeatInfo        `json:"roster"`
	Game     *tienlen.Snapshot `json:"game,omitempty"`
}

// ============================================================================
// LEAVE ROOM (leave_room)
// ============================================================================
type LeaveRoomRequest struct {
	// No fields - the session identifies the player.
}

// ============================================================================
// READY (ready)
// ============================================================================
type ReadyRequest struct {
	Ready bool `json:"ready"`
}

// ============================================================================
// START / RESTART (start_game, restart_game)
// ============================================================================
type StartGameRequest struct{}

type RestartGameRequest struct{}

type RestartVoteNotification struct {
	PlayerID string `json:"playerId"`
	Votes    int    `json:"votes"`
	Needed   int    `json:"needed"`
}

type RoomResetNotification struct {
	RoomCode string     `json:"roomCode"`
	Roster   []SeatInfo `json:"roster"`
}

// ============================================================================
// GAME ACTIONS (select_first_dealer_card, dealer_call, play_cards, set_auto)
// ============================================================================
// Each carries the caller's claimed PlayerID, checked against the session
// before any delegation.
type SelectFirstDealerCardRequest struct {
	PlayerID  string `json:"playerId"`
	CardIndex int    `json:"cardIndex"`
}

type DealerCallRequest struct {
	PlayerID string `json:"playerId"`
	Call     int    `json:"call"`
}

type PlayCardsRequest struct {
	PlayerID string         `json:"playerId"`
	Cards    []tienlen.Card `json:"cards"`
}

type SetAutoRequest struct {
	PlayerID string `json:"playerId"`
	Auto     bool   `json:"auto"`
}

// ============================================================================
// ROSTER / PRESENCE BROADCASTS
// ============================================================================
type SeatInfo struct {
	PlayerID  string `json:"playerId"`
	Name      string `json:"name"`
	Seat      int    `json:"seat"`
	IsHost    bool   `json:"isHost"`
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
	Auto      bool   `json:"auto"`
}

type PlayerJoinedNotification struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Seat     int    `json:"seat"`
}

type PlayerLeftNotification struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Seat     int    `json:"seat"`
	// "left", "disconnected" or "timeout"; a disconnected seat in a playing
	// room stays in the roster under auto-play.
	Reason string `json:"reason"`
}

type PlayerReadyNotification struct {
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
	Ready    bool   `json:"ready"`
}

type HostChangedNotification struct {
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
}

// ============================================================================
// GAME BROADCASTS
// ============================================================================
type GameStartedNotification struct {
	RoomCode string `json:"roomCode"`
}

type GameStateMessage struct {
	RoomCode string           `json:"roomCode"`
	State    string           `json:"state"`
	Game     tienlen.Snapshot `json:"game"`
}

type GameEndedNotification struct {
	WinnerSeat int   `json:"winnerSeat"`
	Scores     []int `json:"scores"`
}
