package server

import (
	"errors"
	"fmt"
)

// Wire error codes. INVALID_PLAY doubles as the generic wrong-state and
// out-of-turn code.
const (
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeRoomFull       = "ROOM_FULL"
	CodeInvalidPlay    = "INVALID_PLAY"
	CodeGameNotStarted = "GAME_NOT_STARTED"
	CodeInternalError  = "INTERNAL_ERROR"
)

// ErrorKind classifies how a request failed. Every kind is terminal for the
// request only; none of them ever crashes a task or touches another room.
type ErrorKind int

const (
	// KindValidation: malformed input, rejected before any mutation. Safe to
	// retry corrected.
	KindValidation ErrorKind = iota
	// KindCapacity: room or server full. Client must pick another target.
	KindCapacity
	// KindState: wrong phase, not host, out of turn. Room state unaffected.
	KindState
	// KindSession: reconnect target missing or PlayerID mismatch.
	KindSession
)

type GameError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *GameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationError(format string, args ...any) *GameError {
	return &GameError{Kind: KindValidation, Code: CodeInvalidPlay, Message: fmt.Sprintf(format, args...)}
}

func capacityError(code, message string) *GameError {
	return &GameError{Kind: KindCapacity, Code: code, Message: message}
}

func stateError(code, format string, args ...any) *GameError {
	return &GameError{Kind: KindState, Code: code, Message: fmt.Sprintf(format, args...)}
}

func sessionError(format string, args ...any) *GameError {
	return &GameError{Kind: KindSession, Code: CodeInternalError, Message: fmt.Sprintf(format, args...)}
}

func errRoomNotFound(roomCode string) *GameError {
	return &GameError{Kind: KindState, Code: CodeRoomNotFound, Message: fmt.Sprintf("room %s not found", roomCode)}
}

func errRoomFull() *GameError {
	return capacityError(CodeRoomFull, "room is full")
}

func errServerFull() *GameError {
	return capacityError(CodeInternalError, "server is at room capacity")
}

func errGameNotStarted() *GameError {
	return stateError(CodeGameNotStarted, "game has not started")
}

func errRateLimited() *GameError {
	return &GameError{Kind: KindValidation, Code: CodeInternalError, Message: "too many requests"}
}

// toErrorMessage maps any error to the single Error envelope returned to the
// offending connection.
func toErrorMessage(err error) ErrorMessage {
	var ge *GameError
	if errors.As(err, &ge) {
		return ErrorMessage{Code: ge.Code, Message: ge.Message}
	}
	return ErrorMessage{Code: CodeInternalError, Message: err.Error()}
}
