package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tienlen-server/internal/tienlen"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS matches (
	id          BIGSERIAL PRIMARY KEY,
	room_code   TEXT        NOT NULL,
	players     JSONB       NOT NULL,
	winner_seat INT         NOT NULL,
	scores      JSONB       NOT NULL,
	final_state JSONB       NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	UNIQUE (room_code, finished_at)
)`

// Archive persists finished matches to Postgres. It is entirely optional:
// the server runs without it and every write happens outside room locks.
type Archive struct {
	pool *pgxpool.Pool
}

func NewArchive(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to archive: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if _, err := pool.Exec(ctx, archiveSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return &Archive{pool: pool}, nil
}

// MatchRecord is a self-contained copy of a finished match; it is built under
// the room lock and written after release.
type MatchRecord struct {
	RoomCode   string           `json:"roomCode"`
	Players    []string         `json:"players"`
	WinnerSeat int              `json:"winnerSeat"`
	Scores     []int            `json:"scores"`
	Final      tienlen.Snapshot `json:"final"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

func (a *Archive) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	final, err := json.Marshal(rec.Final)
	if err != nil {
		return fmt.Errorf("marshal final state: %w", err)
	}

	// Idempotent on redelivery: the same finished match writes once.
	_, err = a.pool.Exec(ctx,
		`INSERT INTO matches (room_code, players, winner_seat, scores, final_state, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (room_code, finished_at) DO NOTHING`,
		rec.RoomCode, players, rec.WinnerSeat, scores, final, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// RecentMatches returns the newest matches for a room, newest first.
func (a *Archive) RecentMatches(ctx context.Context, roomCode string, limit int) ([]MatchRecord, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT room_code, players, winner_seat, scores, final_state, started_at, finished_at
		 FROM matches WHERE room_code = $1
		 ORDER BY finished_at DESC LIMIT $2`,
		roomCode, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var rec MatchRecord
		var players, scores, final []byte
		if err := rows.Scan(&rec.RoomCode, &players, &rec.WinnerSeat, &scores, &final,
			&rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(players, &rec.Players); err != nil {
			return nil, fmt.Errorf("decode players: %w", err)
		}
		if err := json.Unmarshal(scores, &rec.Scores); err != nil {
			return nil, fmt.Errorf("decode scores: %w", err)
		}
		if err := json.Unmarshal(final, &rec.Final); err != nil {
			return nil, fmt.Errorf("decode final state: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Archive) Close() {
	a.pool.Close()
}
