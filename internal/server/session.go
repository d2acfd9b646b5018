package server

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/pkg/logger"
)

// Session 一條連線的狀態
//
// 系統設計考量：
//   - userID 只能設定一次，之後整條連線都用同一個身分
//   - 只持有目前遊戲的指標，遊戲本體由 Registry 管理
//   - 送出訊息不阻塞，緩衝區滿就丟棄，慢的客戶端不會拖住遊戲
type Session struct {
	ID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	userID string
	game   *game.Game
	ctx    context.Context
}

// NewSession 建立 Session，buffer 是待送訊息的佇列長度
func NewSession(buffer int) *Session {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	return &Session{
		ID:   id,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		ctx:  logger.WithSessionID(context.Background(), id),
	}
}

// Send 把訊息放進佇列，連線已關閉或佇列滿時回傳 false
func (s *Session) Send(line []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- line:
		return true
	default:
		return false
	}
}

// Outbound 待送訊息，由寫入 goroutine 消化
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done 連線關閉時會被關閉
func (s *Session) Done() <-chan struct{} { return s.done }

// Close 可重複呼叫
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// UserID 尚未 CONNECT 時為空字串
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Context 帶有 session_id / user_id 的 context，用於記錄
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Session) authenticate(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID != "" {
		return false
	}
	s.userID = userID
	s.ctx = logger.WithUserID(s.ctx, userID)
	return true
}

// currentGame 目前所在的遊戲，已結束的遊戲會順便清掉
func (s *Session) currentGame() *game.Game {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game != nil && s.game.State() == game.StateFinished {
		s.game = nil
	}
	return s.game
}

func (s *Session) setGame(g *game.Game) {
	s.mu.Lock()
	s.game = g
	s.mu.Unlock()
}

// detach 取出並清除目前的遊戲
func (s *Session) detach() *game.Game {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.game
	s.game = nil
	return g
}
