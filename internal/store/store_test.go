package store

import (
	"context"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTest(t)
	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("version = %d, want %d", version, len(migrations))
	}
}

func TestArchiveRoomUpsert(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	room := ArchivedRoom{ID: "r1", Name: "Arena", Mode: "ffa", HostID: "p1", CreatedAt: 100}
	if err := s.ArchiveRoom(ctx, room); err != nil {
		t.Fatalf("ArchiveRoom: %v", err)
	}
	room.FinalState = `{"tick":42}`
	if err := s.ArchiveRoom(ctx, room); err != nil {
		t.Fatalf("ArchiveRoom (update): %v", err)
	}

	var state string
	if err := s.db.QueryRow(`SELECT final_state FROM rooms_archive WHERE id = ?`, "r1").Scan(&state); err != nil {
		t.Fatalf("query: %v", err)
	}
	if state != `{"tick":42}` {
		t.Errorf("final_state = %q, want updated value", state)
	}
}

func TestInsertMatchAndListMatches(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := MatchResult{
		MatchID:   "m1",
		RoomID:    "r1",
		Mode:      "ffa",
		StartedAt: 100,
		EndedAt:   200,
		Participants: []ParticipantResult{
			{PlayerID: "a", PlayerName: "Alice", Score: 10},
			{PlayerID: "b", PlayerName: "Bob", Score: 5},
		},
	}
	if err := s.InsertMatch(ctx, m); err != nil {
		t.Fatalf("InsertMatch: %v", err)
	}

	matches, err := s.ListMatches(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if len(matches[0].Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(matches[0].Participants))
	}
	if matches[0].Participants[0].PlayerID != "a" {
		t.Errorf("expected highest scorer first, got %s", matches[0].Participants[0].PlayerID)
	}
}

func TestInsertMatchUpdatesLeaderboard(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first := MatchResult{
		MatchID: "m1", RoomID: "r1", Mode: "ffa", StartedAt: 1, EndedAt: 2,
		Participants: []ParticipantResult{
			{PlayerID: "a", PlayerName: "Alice", Score: 10},
			{PlayerID: "b", PlayerName: "Bob", Score: 3},
		},
	}
	second := MatchResult{
		MatchID: "m2", RoomID: "r1", Mode: "ffa", StartedAt: 3, EndedAt: 4,
		Participants: []ParticipantResult{
			{PlayerID: "a", PlayerName: "Alice", Score: 1},
			{PlayerID: "b", PlayerName: "Bob", Score: 8},
		},
	}
	if err := s.InsertMatch(ctx, first); err != nil {
		t.Fatalf("InsertMatch 1: %v", err)
	}
	if err := s.InsertMatch(ctx, second); err != nil {
		t.Fatalf("InsertMatch 2: %v", err)
	}

	board, err := s.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("expected 2 leaderboard rows, got %d", len(board))
	}
	byPlayer := map[string]LeaderboardEntry{}
	for _, e := range board {
		byPlayer[e.PlayerID] = e
	}
	if byPlayer["a"].TotalScore != 11 || byPlayer["a"].MatchesWon != 1 || byPlayer["a"].MatchesPlayed != 2 {
		t.Errorf("player a leaderboard wrong: %+v", byPlayer["a"])
	}
	if byPlayer["b"].TotalScore != 11 || byPlayer["b"].MatchesWon != 1 || byPlayer["b"].MatchesPlayed != 2 {
		t.Errorf("player b leaderboard wrong: %+v", byPlayer["b"])
	}
}

func TestListMatchesEmptyRoom(t *testing.T) {
	s := openTest(t)
	matches, err := s.ListMatches(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}
