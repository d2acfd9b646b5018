// Package store 保存回合結果：PostgreSQL 存完整紀錄，Redis 維護排行榜
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
)

// ResultSink 回合結果的寫入目標
type ResultSink interface {
	SaveRound(ctx context.Context, r *game.RoundResult) error
}

// RecorderConfig Recorder 設定
type RecorderConfig struct {
	Buffer  int           // 待寫入的回合數上限
	Timeout time.Duration // 每個 sink 單次寫入的期限
}

// Recorder 非同步寫入回合結果
//
// 系統設計考量：
//
//	遊戲在自己的鎖內發出 round.finished，寫資料庫不能在那裡做。
//	Publish 只做非阻塞的 channel 送出，緩衝滿時丟棄並記錄警告，
//	由單一 worker 依序寫入每個 sink，任一 sink 失敗不影響其他 sink。
type Recorder struct {
	ch      chan *game.RoundResult
	sinks   []ResultSink
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder 建立並啟動 Recorder
func NewRecorder(cfg RecorderConfig, logger *slog.Logger, sinks ...ResultSink) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	r := &Recorder{
		ch:      make(chan *game.RoundResult, cfg.Buffer),
		sinks:   sinks,
		timeout: cfg.Timeout,
		logger:  logger,
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Publish 實現 game.EventSink，只處理 round.finished
func (r *Recorder) Publish(e game.Event) {
	if e.Type != game.EventRoundFinished || e.Result == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.ch <- e.Result:
	default:
		r.logger.Warn("result queue full, round dropped", "game_id", e.GameID)
	}
}

// Close 停止接收並等待已排隊的結果寫完
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for result := range r.ch {
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			start := time.Now()
			err := sink.SaveRound(ctx, result)
			cancel()

			if err != nil {
				r.logger.Error("save round failed", "game_id", result.GameID, "sink", sinkName(sink), "error", err)
				continue
			}
			r.logger.Debug("round saved", "game_id", result.GameID, "sink", sinkName(sink), "duration", time.Since(start))
		}
	}
}

func sinkName(s ResultSink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}
