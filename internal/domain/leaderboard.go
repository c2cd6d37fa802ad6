package domain

import (
	"sort"
	"time"
)

// LeaderboardEntry is a ranked view of a participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomCode  string             `json:"roomCode"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Rank derives the leaderboard from a room snapshot: score descending,
// ties kept in participant insertion order (stable sort). There is no
// explicit tiebreak field, so insertion order is the rule.
func Rank(room Room, now time.Time) Leaderboard {
	entries := make([]LeaderboardEntry, 0, len(room.Participants))
	for _, p := range room.Participants {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		entries = append(entries, LeaderboardEntry{
			ParticipantID: p.ID,
			DisplayName:   name,
			Score:         p.Score,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return Leaderboard{
		RoomCode:  room.Code,
		Entries:   entries,
		UpdatedAt: now,
	}
}
