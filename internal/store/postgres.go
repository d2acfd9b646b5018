package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
)

// PostgresStore 回合紀錄的 PostgreSQL 存儲
//
// 系統設計考量：
//
//  1. 表結構：
//     - rounds：一場回合一列，beacon 統計以 JSONB 保存（只供查詢顯示）
//     - round_players：每位玩家一列，可依 user_id 查詢歷史
//
//  2. 冪等：
//     game_id 為主鍵，重複寫入同一回合時 ON CONFLICT DO NOTHING，
//     Recorder 重試不會產生重複資料。
//
//  3. 交易：
//     rounds 與 round_players 在同一個交易內寫入。
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 建立存儲，pool 的生命週期由呼叫端管理
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Name sink 名稱
func (s *PostgresStore) Name() string { return "postgres" }

// SaveRound 寫入一場回合
func (s *PostgresStore) SaveRound(ctx context.Context, r *game.RoundResult) error {
	beacons, err := json.Marshal(r.Beacons)
	if err != nil {
		return fmt.Errorf("marshal beacons: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO rounds (game_id, host, reason, winner, started_at, ended_at, beacons)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
			ON CONFLICT (game_id) DO NOTHING`,
			r.GameID, r.Host, string(r.Reason), r.Winner, r.StartedAt, r.EndedAt, beacons,
		)
		if err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, p := range r.Players {
			batch.Queue(`
				INSERT INTO round_players (game_id, user_id, score, capture_attempts,
					successful_captures, failed_captures, time_spent_capturing_ms, active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				r.GameID, p.UserID, p.Score, p.Stats.CaptureAttempts,
				p.Stats.SuccessfulCaptures, p.Stats.FailedCaptures, p.Stats.TimeSpentCapturing, p.Active,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert round players: %w", err)
		}
		return nil
	})
}

// RoundRecord 查詢用的回合紀錄
type RoundRecord struct {
	GameID    string              `json:"gameId"`
	Host      string              `json:"host"`
	Reason    string              `json:"reason"`
	Winner    string              `json:"winner,omitempty"`
	StartedAt time.Time           `json:"startedAt"`
	EndedAt   time.Time           `json:"endedAt"`
	Players   []game.PlayerResult `json:"players"`
}

// RecentRounds 最近結束的回合，新的在前
func (s *PostgresStore) RecentRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, host, reason, COALESCE(winner, ''), started_at, ended_at
		FROM rounds
		ORDER BY ended_at DESC, game_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RoundRecord, error) {
		var rec RoundRecord
		err := row.Scan(&rec.GameID, &rec.Host, &rec.Reason, &rec.Winner, &rec.StartedAt, &rec.EndedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan rounds: %w", err)
	}
	if len(records) == 0 {
		return []RoundRecord{}, nil
	}

	ids := make([]string, len(records))
	index := make(map[string]int, len(records))
	for i, rec := range records {
		ids[i] = rec.GameID
		index[rec.GameID] = i
	}

	rows, err = s.pool.Query(ctx, `
		SELECT game_id, user_id, score, capture_attempts, successful_captures,
			failed_captures, time_spent_capturing_ms, active
		FROM round_players
		WHERE game_id = ANY($1)
		ORDER BY game_id, score DESC, user_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query round players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			gameID string
			p      game.PlayerResult
		)
		if err := rows.Scan(&gameID, &p.UserID, &p.Score, &p.Stats.CaptureAttempts,
			&p.Stats.SuccessfulCaptures, &p.Stats.FailedCaptures, &p.Stats.TimeSpentCapturing, &p.Active); err != nil {
			return nil, fmt.Errorf("scan round player: %w", err)
		}
		i := index[gameID]
		records[i].Players = append(records[i].Players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate round players: %w", err)
	}
	return records, nil
}
