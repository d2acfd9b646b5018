package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/store"
	"github.com/koopa0/system-design/beacon-arena/internal/store/migrations"
	"github.com/koopa0/system-design/beacon-arena/internal/testutils"
	"github.com/koopa0/system-design/beacon-arena/pkg/logger"
)

func sampleRound(id string, ended time.Time, scores map[string]int, winner string) *game.RoundResult {
	r := &game.RoundResult{
		GameID:    id,
		Host:      "H",
		Reason:    game.ReasonTimeLimit,
		Winner:    winner,
		StartedAt: ended.Add(-10 * time.Minute),
		EndedAt:   ended,
		Beacons:   []game.BeaconResult{{BeaconID: "B1", Owner: winner}},
	}
	for user, score := range scores {
		r.Players = append(r.Players, game.PlayerResult{
			UserID: user,
			Score:  score,
			Stats:  game.PlayerStats{CaptureAttempts: 3, SuccessfulCaptures: 1, TimeSpentCapturing: 5000},
			Active: true,
		})
	}
	return r
}

func TestPostgresStore(t *testing.T) {
	pool, _ := testutils.Postgres(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRound(ctx, sampleRound("g1", base, map[string]int{"H": 100, "P": 40}, "H")))
	require.NoError(t, s.SaveRound(ctx, sampleRound("g2", base.Add(time.Hour), map[string]int{"H": 10, "P": 10}, "")))

	// 重複寫入是冪等的
	require.NoError(t, s.SaveRound(ctx, sampleRound("g1", base, map[string]int{"H": 999}, "H")))

	rounds, err := s.RecentRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 2)

	assert.Equal(t, "g2", rounds[0].GameID)
	assert.Empty(t, rounds[0].Winner)
	assert.Equal(t, "g1", rounds[1].GameID)
	assert.Equal(t, "H", rounds[1].Winner)
	assert.Equal(t, string(game.ReasonTimeLimit), rounds[1].Reason)
	assert.True(t, rounds[1].EndedAt.Equal(base))

	require.Len(t, rounds[1].Players, 2)
	assert.Equal(t, "H", rounds[1].Players[0].UserID)
	assert.Equal(t, 100, rounds[1].Players[0].Score)
	assert.Equal(t, int64(5000), rounds[1].Players[0].Stats.TimeSpentCapturing)

	limited, err := s.RecentRounds(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRedisLeaderboard(t *testing.T) {
	client := testutils.Redis(t)
	lb := store.NewRedisLeaderboard(client, "test", time.Hour)
	ctx := context.Background()

	empty, err := lb.Top(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, lb.SaveRound(ctx, sampleRound("g1", base, map[string]int{"H": 100, "P": 40}, "H")))
	require.NoError(t, lb.SaveRound(ctx, sampleRound("g2", base, map[string]int{"P": 90, "Q": 5}, "P")))

	top, err := lb.Top(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []store.LeaderboardEntry{
		{Rank: 1, UserID: "P", Score: 130, Wins: 1},
		{Rank: 2, UserID: "H", Score: 100, Wins: 1},
	}, top)

	summary, err := lb.RoundSummary(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "H", summary["winner"])
	assert.Equal(t, "2", summary["players"])

	ttl, err := client.TTL(ctx, "test:round:g1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	missing, err := lb.RoundSummary(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMigrations_DownAndUp(t *testing.T) {
	pool, dsn := testutils.Postgres(t)
	ctx := context.Background()

	mg, err := migrations.New(dsn, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mg.Close() })

	state, err := mg.Current()
	require.NoError(t, err)
	assert.Equal(t, migrations.State{Version: 1}, state)

	require.NoError(t, mg.Down())
	state, err = mg.Current()
	require.NoError(t, err)
	assert.Zero(t, state.Version)

	var exists bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('public.rounds') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists)

	// 再升一次，重複執行不會出錯
	require.NoError(t, mg.Up())
	require.NoError(t, mg.Up())
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('public.rounds') IS NOT NULL`).Scan(&exists))
	assert.True(t, exists)
}
