package server

import (
	"encoding/json"
	"fmt"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Inbound message types.
const (
	MsgPing                  = "ping"
	MsgCreateRoom            = "create_room"
	MsgJoinRoom              = "join_room"
	MsgReconnect             = "reconnect"
	MsgLeaveRoom             = "leave_room"
	MsgReady                 = "ready"
	MsgStartGame             = "start_game"
	MsgRestartGame           = "restart_game"
	MsgSelectFirstDealerCard = "select_first_dealer_card"
	MsgDealerCall            = "dealer_call"
	MsgPlayCards             = "play_cards"
	MsgSetAuto               = "set_auto"
)

// Outbound message types.
const (
	MsgPong             = "pong"
	MsgError            = "error"
	MsgRoomCreated      = "room_created"
	MsgRoomJoined       = "room_joined"
	MsgReconnectSuccess = "reconnect_success"
	MsgPlayerJoined     = "player_joined"
	MsgPlayerLeft       = "player_left"
	MsgPlayerReady      = "player_ready"
	MsgHostChanged      = "host_changed"
	MsgGameStarted      = "game_started"
	MsgGameState        = "game_state"
	MsgGameEnded        = "game_ended"
	MsgRestartVote      = "restart_vote"
	MsgRoomReset        = "room_reset"
)

// inboundMessage is the closed set of requests the dispatcher understands.
// The envelope is decoded exactly once at the transport boundary; everything
// past decodeInbound works with concrete types.
type inboundMessage interface {
	isInbound()
}

func (PingRequest) isInbound()                  {}
func (CreateRoomRequest) isInbound()            {}
func (JoinRoomRequest) isInbound()              {}
func (ReconnectRequest) isInbound()             {}
func (LeaveRoomRequest) isInbound()             {}
func (ReadyRequest) isInbound()                 {}
func (StartGameRequest) isInbound()             {}
func (RestartGameRequest) isInbound()           {}
func (SelectFirstDealerCardRequest) isInbound() {}
func (DealerCallRequest) isInbound()            {}
func (PlayCardsRequest) isInbound()             {}
func (SetAutoRequest) isInbound()               {}

func decodeInbound(msgType string, payload json.RawMessage) (inboundMessage, error) {
	unmarshal := func(dst inboundMessage) (inboundMessage, error) {
		if len(payload) == 0 {
			return dst, nil
		}
		if err := json.Unmarshal(payload, dst); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", msgType, err)
		}
		return dst, nil
	}

	switch msgType {
	case MsgPing:
		return &PingRequest{}, nil
	case MsgCreateRoom:
		return unmarshal(&CreateRoomRequest{})
	case MsgJoinRoom:
		return unmarshal(&JoinRoomRequest{})
	case MsgReconnect:
		return unmarshal(&ReconnectRequest{})
	case MsgLeaveRoom:
		return &LeaveRoomRequest{}, nil
	case MsgReady:
		return unmarshal(&ReadyRequest{})
	case MsgStartGame:
		return &StartGameRequest{}, nil
	case MsgRestartGame:
		return &RestartGameRequest{}, nil
	case MsgSelectFirstDealerCard:
		return unmarshal(&SelectFirstDealerCardRequest{})
	case MsgDealerCall:
		return unmarshal(&DealerCallRequest{})
	case MsgPlayCards:
		return unmarshal(&PlayCardsRequest{})
	case MsgSetAuto:
		return unmarshal(&SetAutoRequest{})
	default:
		return nil, fmt.Errorf("unknown message type %q", msgType)
	}
}

// limitCategory buckets inbound types for the per-connection rate limiters.
type limitCategory int

const (
	limitNone limitCategory = iota
	limitRoomOps
	limitGameOps
	limitConnOps
)

func categoryFor(msgType string) limitCategory {
	switch msgType {
	case MsgCreateRoom, MsgJoinRoom, MsgLeaveRoom, MsgReady, MsgStartGame, MsgRestartGame:
		return limitRoomOps
	case MsgSelectFirstDealerCard, MsgDealerCall, MsgPlayCards, MsgSetAuto:
		return limitGameOps
	case MsgReconnect:
		return limitConnOps
	default:
		return limitNone
	}
}
