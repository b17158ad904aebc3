package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config holds every tunable the server reads at startup. All timeouts and
// windows are configuration, not correctness constants, so they live here.
type Config struct {
	Port int

	MaxRooms          int
	MaxPlayersPerRoom int
	SendQueueSize     int

	HeartbeatInterval time.Duration
	DisconnectTimeout time.Duration
	ReconnectWindow   time.Duration
	RoomIdleTimeout   time.Duration
	AutoPlayDelay     time.Duration

	// Rate limits, per connection, per category.
	RoomOpsLimit   int
	RoomOpsWindow  time.Duration
	GameOpsLimit   int
	GameOpsWindow  time.Duration
	ConnOpsLimit   int
	ConnOpsWindow  time.Duration

	// Optional Postgres DSN for the match archive. Empty disables archiving.
	DatabaseURL string
}

func Load() *Config {
	return &Config{
		Port: envInt("PORT", 8080),

		MaxRooms:          envInt("MAX_ROOMS", 256),
		MaxPlayersPerRoom: envInt("MAX_PLAYERS_PER_ROOM", 4),
		SendQueueSize:     envInt("SEND_QUEUE_SIZE", 64),

		HeartbeatInterval: envDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		DisconnectTimeout: envDuration("DISCONNECT_TIMEOUT", 15*time.Second),
		ReconnectWindow:   envDuration("RECONNECT_WINDOW", 3*time.Minute),
		RoomIdleTimeout:   envDuration("ROOM_IDLE_TIMEOUT", 10*time.Minute),
		AutoPlayDelay:     envDuration("AUTO_PLAY_DELAY", 1500*time.Millisecond),

		RoomOpsLimit:  envInt("ROOM_OPS_LIMIT", 5),
		RoomOpsWindow: envDuration("ROOM_OPS_WINDOW", 10*time.Second),
		GameOpsLimit:  envInt("GAME_OPS_LIMIT", 30),
		GameOpsWindow: envDuration("GAME_OPS_WINDOW", 10*time.Second),
		ConnOpsLimit:  envInt("CONN_OPS_LIMIT", 5),
		ConnOpsWindow: envDuration("CONN_OPS_WINDOW", 30*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
