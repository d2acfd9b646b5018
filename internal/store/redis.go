package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
)

// RedisLeaderboard 以 Redis 維護跨回合排行榜
//
// 資料結構：
//
//	{prefix}:leaderboard       ZSET  userId → 累積分數
//	{prefix}:wins              HASH  userId → 勝場數
//	{prefix}:round:{gameId}    HASH  回合摘要，TTL 後過期
//
// 同一回合的所有寫入在一個 MULTI/EXEC 交易內完成。
type RedisLeaderboard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLeaderboard 建立排行榜
func NewRedisLeaderboard(client redis.UniversalClient, prefix string, summaryTTL time.Duration) *RedisLeaderboard {
	if prefix == "" {
		prefix = "arena"
	}
	return &RedisLeaderboard{client: client, prefix: prefix, ttl: summaryTTL}
}

// Name sink 名稱
func (l *RedisLeaderboard) Name() string { return "redis" }

func (l *RedisLeaderboard) key(parts ...string) string {
	k := l.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// SaveRound 累加分數並保存回合摘要
func (l *RedisLeaderboard) SaveRound(ctx context.Context, r *game.RoundResult) error {
	summaryKey := l.key("round", r.GameID)

	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range r.Players {
			pipe.ZIncrBy(ctx, l.key("leaderboard"), float64(p.Score), p.UserID)
		}
		if r.Winner != "" {
			pipe.HIncrBy(ctx, l.key("wins"), r.Winner, 1)
		}
		pipe.HSet(ctx, summaryKey,
			"host", r.Host,
			"reason", string(r.Reason),
			"winner", r.Winner,
			"players", len(r.Players),
			"started_at", r.StartedAt.UnixMilli(),
			"ended_at", r.EndedAt.UnixMilli(),
		)
		if l.ttl > 0 {
			pipe.Expire(ctx, summaryKey, l.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save round: %w", err)
	}
	return nil
}

// LeaderboardEntry 排行榜項目
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
	Wins   int64  `json:"wins"`
}

// Top 前 n 名
func (l *RedisLeaderboard) Top(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		return []LeaderboardEntry{}, nil
	}

	zs, err := l.client.ZRevRangeWithScores(ctx, l.key("leaderboard"), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis leaderboard: %w", err)
	}
	if len(zs) == 0 {
		return []LeaderboardEntry{}, nil
	}

	users := make([]string, len(zs))
	for i, z := range zs {
		users[i] = z.Member.(string)
	}
	wins, err := l.client.HMGet(ctx, l.key("wins"), users...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis wins: %w", err)
	}

	out := make([]LeaderboardEntry, len(zs))
	for i, z := range zs {
		out[i] = LeaderboardEntry{Rank: i + 1, UserID: users[i], Score: int64(z.Score)}
		if s, ok := wins[i].(string); ok {
			out[i].Wins, _ = strconv.ParseInt(s, 10, 64)
		}
	}
	return out, nil
}

// RoundSummary 讀取回合摘要，過期或不存在時回傳 nil
func (l *RedisLeaderboard) RoundSummary(ctx context.Context, gameID string) (map[string]string, error) {
	m, err := l.client.HGetAll(ctx, l.key("round", gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis round summary: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
