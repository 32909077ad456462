// Package store provides persistent state for rooms, completed matches, match
// participants, and a leaderboard, backed by an embedded SQLite database.
//
// Migration design: SQL statements live in the [migrations] slice as ordered
// strings. Each is applied exactly once; the applied version is tracked in
// the schema_migrations table. To add a migration, append a new string —
// never edit or reorder existing entries. Carried over from the reference
// server's store package.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — archived rooms
	`CREATE TABLE IF NOT EXISTS rooms_archive (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		mode        TEXT NOT NULL,
		host_id     TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		closed_at   INTEGER NOT NULL DEFAULT (unixepoch()),
		final_state TEXT NOT NULL DEFAULT ''
	)`,
	// v2 — completed matches
	`CREATE TABLE IF NOT EXISTS matches (
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL,
		mode       TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at   INTEGER NOT NULL
	)`,
	// v3 — per-match participants and scores
	`CREATE TABLE IF NOT EXISTS participants (
		match_id    TEXT NOT NULL,
		player_id   TEXT NOT NULL,
		player_name TEXT NOT NULL DEFAULT '',
		score       REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, player_id)
	)`,
	// v4 — aggregate leaderboard, updated alongside InsertMatch
	`CREATE TABLE IF NOT EXISTS leaderboard (
		player_id      TEXT PRIMARY KEY,
		player_name    TEXT NOT NULL DEFAULT '',
		total_score    REAL NOT NULL DEFAULT 0,
		matches_won    INTEGER NOT NULL DEFAULT 0,
		matches_played INTEGER NOT NULL DEFAULT 0,
		updated_at     INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v5, v6 — indexes for lookup patterns actually used by the HTTP surface
	`CREATE INDEX IF NOT EXISTS idx_matches_room ON matches(room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_player ON participants(player_id)`,
	// v7 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes room/match persistence.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
		log.Warn("set busy_timeout failed", "err", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		s.log.Debug("applied migration", "version", v)
	}
	return nil
}

// ArchivedRoom is a snapshot of a room at the moment it closed.
type ArchivedRoom struct {
	ID         string
	Name       string
	Mode       string
	HostID     string
	CreatedAt  int64
	ClosedAt   int64
	FinalState string // opaque JSON blob, room's choosing
}

// ArchiveRoom records a room's final state when it transitions to Closed.
func (s *Store) ArchiveRoom(ctx context.Context, r ArchivedRoom) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms_archive(id, name, mode, host_id, created_at, final_state)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET final_state = excluded.final_state, closed_at = unixepoch()`,
		r.ID, r.Name, r.Mode, r.HostID, r.CreatedAt, r.FinalState,
	)
	if err != nil {
		return fmt.Errorf("archive room: %w", err)
	}
	return nil
}

// ParticipantResult is one player's outcome in a finished match.
type ParticipantResult struct {
	PlayerID   string
	PlayerName string
	Score      float64
}

// MatchResult is the append-only record written when a room transitions
// InProgress -> Finished.
type MatchResult struct {
	MatchID      string
	RoomID       string
	Mode         string
	StartedAt    int64
	EndedAt      int64
	Participants []ParticipantResult
}

// InsertMatch appends a match result and updates the leaderboard within a
// single transaction. The highest score among participants is credited a
// win if it is above zero; ties credit every top scorer.
func (s *Store) InsertMatch(ctx context.Context, m MatchResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO matches(id, room_id, mode, started_at, ended_at) VALUES(?, ?, ?, ?, ?)`,
		m.MatchID, m.RoomID, m.Mode, m.StartedAt, m.EndedAt,
	); err != nil {
		return fmt.Errorf("insert match: %w", err)
	}

	top := 0.0
	for _, p := range m.Participants {
		if p.Score > top {
			top = p.Score
		}
	}

	for _, p := range m.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants(match_id, player_id, player_name, score) VALUES(?, ?, ?, ?)`,
			m.MatchID, p.PlayerID, p.PlayerName, p.Score,
		); err != nil {
			return fmt.Errorf("insert participant %s: %w", p.PlayerID, err)
		}

		won := 0
		if p.Score == top && top > 0 {
			won = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leaderboard(player_id, player_name, total_score, matches_won, matches_played, updated_at)
			 VALUES(?, ?, ?, ?, 1, unixepoch())
			 ON CONFLICT(player_id) DO UPDATE SET
			   player_name = excluded.player_name,
			   total_score = total_score + excluded.total_score,
			   matches_won = matches_won + excluded.matches_won,
			   matches_played = matches_played + 1,
			   updated_at = unixepoch()`,
			p.PlayerID, p.PlayerName, p.Score, won,
		); err != nil {
			return fmt.Errorf("update leaderboard for %s: %w", p.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit match %s: %w", m.MatchID, err)
	}
	return nil
}

// ListMatches returns matches for a room, most recent first, along with
// their participants.
func (s *Store) ListMatches(ctx context.Context, roomID string, limit int) ([]MatchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, mode, started_at, ended_at FROM matches
		 WHERE room_id = ? ORDER BY ended_at DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []MatchResult
	for rows.Next() {
		var m MatchResult
		if err := rows.Scan(&m.MatchID, &m.RoomID, &m.Mode, &m.StartedAt, &m.EndedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		parts, err := s.participantsFor(ctx, out[i].MatchID)
		if err != nil {
			return nil, err
		}
		out[i].Participants = parts
	}
	return out, nil
}

func (s *Store) participantsFor(ctx context.Context, matchID string) ([]ParticipantResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, player_name, score FROM participants WHERE match_id = ? ORDER BY score DESC`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []ParticipantResult
	for rows.Next() {
		var p ParticipantResult
		if err := rows.Scan(&p.PlayerID, &p.PlayerName, &p.Score); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LeaderboardEntry is one ranked row of the aggregate leaderboard.
type LeaderboardEntry struct {
	PlayerID      string
	PlayerName    string
	TotalScore    float64
	MatchesWon    int
	MatchesPlayed int
}

// Leaderboard returns the top N players by total score.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, player_name, total_score, matches_won, matches_played
		 FROM leaderboard ORDER BY total_score DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.PlayerName, &e.TotalScore, &e.MatchesWon, &e.MatchesPlayed); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarshalFinalState is a convenience for callers building ArchivedRoom.FinalState
// from an arbitrary snapshot value (e.g. the room's last tick of entity state).
func MarshalFinalState(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
