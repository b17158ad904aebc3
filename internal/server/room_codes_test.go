package server_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tienlen-server/internal/server"
)

func TestGenerateRoomCodeFormat(t *testing.T) {
	assert := assert.New(t)
	usedCodes := make(map[string]bool)

	for range 100 {
		code := server.GenerateRoomCode(usedCodes)

		assert.Equal(5, len(code))

		for _, ch := range code {
			assert.True(ch >= 'A' && ch <= 'Z')
			assert.False(strings.ContainsRune("ILOQ", ch), "Code %s uses an ambiguous letter", code)
		}
	}
}

func TestGenerateRoomCodeUniqueness(t *testing.T) {
	usedCodes := make(map[string]bool)
	generatedCodes := make(map[string]bool)

	for range 1000 {
		code := server.GenerateRoomCode(usedCodes)

		assert.False(t, generatedCodes[code], "Code %s was generated twice", code)

		generatedCodes[code] = true
		usedCodes[code] = true
	}

	assert.Equal(t, 1000, len(generatedCodes))
}

func TestGenerateRoomCodeAvoidsUsedCodes(t *testing.T) {
	usedCodes := make(map[string]bool)

	usedCodes["AAAAA"] = true
	usedCodes["ZZZZZ"] = true
	usedCodes["TESTS"] = true

	for range 100 {
		code := server.GenerateRoomCode(usedCodes)

		assert.NotEqual(t, "AAAAA", code)
		assert.NotEqual(t, "ZZZZZ", code)
		assert.NotEqual(t, "TESTS", code)
	}
}

func TestValidateRoomCodeValidCodes(t *testing.T) {
	validCodes := []string{"BEARS", "GAMES", "AAAAA", "ZZZZZ", "tensy"}

	for _, code := range validCodes {
		err := server.ValidateRoomCode(code)
		assert.NoError(t, err, "Code %s should be valid", code)
	}
}

func TestValidateRoomCodeInvalidLength(t *testing.T) {
	invalidCodes := []string{"", "A", "AB", "ABCD", "ABCDEF"}

	for _, code := range invalidCodes {
		err := server.ValidateRoomCode(code)
		assert.Error(t, err, "Code %s should be invalid (wrong length)", code)
		assert.Contains(t, err.Error(), "exactly 5 characters")
	}
}

func TestValidateRoomCodeInvalidCharacters(t *testing.T) {
	invalidCodes := []string{
		"12345", // numbers
		"A1B2C", // letters + numbers
		"A-B!C", // special chars
		"AB CD", // space
		"ABCDO", // ambiguous letter O
		"ABCDI", // ambiguous letter I
	}

	for _, code := range invalidCodes {
		err := server.ValidateRoomCode(code)
		assert.Error(t, err, "Code %s should be invalid (bad characters)", code)
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "ABCDE", server.NormalizeRoomCode("  abcde "))
	assert.Equal(t, "ABCDE", server.NormalizeRoomCode("AbCdE"))
}
