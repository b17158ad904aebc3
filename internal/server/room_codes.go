package server

import (
	"errors"
	"math/rand"
	"strings"
)

// Codes skip I, L, O and Q; they read ambiguously when shared out loud or
// retyped from a screenshot.
const roomCodeAlphabet = "ABCDEFGHJKMNPRSTUVWXYZ"

const roomCodeLength = 5

func GenerateRoomCode(usedCodes map[string]bool) string {
	for {
		code := make([]byte, roomCodeLength)
		for i := range code {
			code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
		}
		roomCode := string(code)

		if !usedCodes[roomCode] {
			return roomCode
		}
	}
}

func ValidateRoomCode(code string) error {
	if len(code) != roomCodeLength {
		return errors.New("room code must be exactly 5 characters")
	}

	code = strings.ToUpper(code)
	for _, ch := range code {
		if !strings.ContainsRune(roomCodeAlphabet, ch) {
			return errors.New("room code contains an invalid character")
		}
	}

	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
