package game

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/koopa0/system-design/beacon-arena/internal/idgen"
	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

// RegistryConfig Registry 設定
type RegistryConfig struct {
	NodeID         int64
	Defaults       Settings
	Beacons        []string      // 新遊戲的預設 beacon
	MaxRoundLength time.Duration // gameTime 的上限
	LobbyTTL       time.Duration // lobby 閒置多久後回收，0 表示不回收
}

// Registry 進行中遊戲的唯一來源
//
// 遊戲結束時會自己從 Registry 移除，所以 Get 找不到就是 GameNotFound，
// 不會有殘留的 finished 遊戲。
type Registry struct {
	games   map[string]*Game
	mu      sync.RWMutex
	cfg     RegistryConfig
	ids     *idgen.Generator
	deps    gameDeps
	logger  *slog.Logger
	cron    *cron.Cron
	stopped bool

	created  atomic.Int64
	finished atomic.Int64
}

// NewRegistry 建立 Registry
//
// events 可以是 nil。回應的時間戳使用 sched 的時鐘。
func NewRegistry(cfg RegistryConfig, sched Scheduler, events EventSink, logger *slog.Logger) (*Registry, error) {
	ids, err := idgen.NewWithClock(cfg.NodeID, sched.Now)
	if err != nil {
		return nil, fmt.Errorf("game id generator: %w", err)
	}
	if err := cfg.Defaults.validate(1); err != nil {
		return nil, fmt.Errorf("default settings: %w", err)
	}
	if events == nil {
		events = nopSink{}
	}

	r := &Registry{
		games:  make(map[string]*Game),
		cfg:    cfg,
		ids:    ids,
		logger: logger,
	}
	r.deps = gameDeps{
		sched:          sched,
		builder:        protocol.NewBuilder(sched.Now),
		events:         events,
		logger:         logger,
		maxRoundLength: cfg.MaxRoundLength,
		onFinished:     r.remove,
	}
	return r, nil
}

// Create 建立遊戲並把房主加入為第一位玩家（HOST）
//
// 房主會收到 HOST 名單。呼叫端要先確認該連線還沒有在其他遊戲中。
func (r *Registry) Create(hostID string, sender Sender) (*Game, error) {
	id, err := r.ids.NewGameID()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to generate game id")
	}

	beacons := make([]BeaconConfig, 0, len(r.cfg.Beacons))
	for _, b := range r.cfg.Beacons {
		beacons = append(beacons, BeaconConfig{BeaconID: b})
	}
	g := newGame(id, hostID, sender, r.cfg.Defaults, beacons, r.deps)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, apperrors.ErrShuttingDown
	}
	r.games[id] = g
	r.mu.Unlock()
	r.created.Add(1)

	r.logger.Info("game created", "game_id", id, "host", hostID)

	g.mu.Lock()
	g.emit(Event{Type: EventGameCreated, UserID: hostID})
	g.broadcastRosterLocked(protocol.CmdHost)
	g.mu.Unlock()

	return g, nil
}

// Get 取得遊戲，不存在時回傳 GameNotFound
func (r *Registry) Get(gameID string) (*Game, error) {
	r.mu.RLock()
	g, ok := r.games[gameID]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.ErrGameNotFound.WithDetails(fmt.Sprintf("game %q not found", gameID))
	}
	return g, nil
}

// Join 加入遊戲（JOIN）
func (r *Registry) Join(gameID, userID string, sender Sender) (*Game, error) {
	g, err := r.Get(gameID)
	if err != nil {
		return nil, err
	}
	if err := g.AddPlayer(userID, sender); err != nil {
		return nil, err
	}
	return g, nil
}

// Count 進行中的遊戲數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// ListFilter List 的條件
type ListFilter struct {
	State State
	Page  int
	Limit int
}

// List 列出遊戲，依建立時間排序並分頁
func (r *Registry) List(f ListFilter) ([]Summary, int) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}

	var filtered []Summary
	for _, g := range r.snapshot() {
		s := g.Summary()
		if f.State != "" && s.State != f.State {
			continue
		}
		filtered = append(filtered, s)
	}
	slices.SortFunc(filtered, func(a, b Summary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.GameID, b.GameID)
	})

	total := len(filtered)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return []Summary{}, total
	}
	end := min(start+f.Limit, total)
	return filtered[start:end], total
}

// Stats 統計資訊
type Stats struct {
	Games         int           `json:"games"`
	Players       int           `json:"players"`
	ByState       map[State]int `json:"byState"`
	TotalCreated  int64         `json:"totalCreated"`
	TotalFinished int64         `json:"totalFinished"`
}

// Stats 取得統計資訊
func (r *Registry) Stats() Stats {
	s := Stats{
		ByState:       make(map[State]int),
		TotalCreated:  r.created.Load(),
		TotalFinished: r.finished.Load(),
	}
	for _, g := range r.snapshot() {
		sum := g.Summary()
		s.Games++
		s.Players += sum.Players
		s.ByState[sum.State]++
	}
	return s
}

// Reap 回收閒置過久的 lobby，回傳回收數量
func (r *Registry) Reap(now time.Time) int {
	if r.cfg.LobbyTTL <= 0 {
		return 0
	}
	n := 0
	for _, g := range r.snapshot() {
		if g.Expire(now, r.cfg.LobbyTTL) {
			n++
		}
	}
	if n > 0 {
		r.logger.Info("idle lobbies reaped", "count", n)
	}
	return n
}

// StartReaper 依 cron 表達式定期執行 Reap
func (r *Registry) StartReaper(spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { r.Reap(r.deps.sched.Now()) }); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", spec, err)
	}
	c.Start()

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	r.logger.Info("lobby reaper started", "schedule", spec, "ttl", r.cfg.LobbyTTL)
	return nil
}

// Stop 停止回收排程並結束所有遊戲，之後不再接受開新遊戲
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	games := r.snapshot()
	for _, g := range games {
		g.Close(ReasonServerShutdown)
	}
	r.logger.Info("game registry stopped", "closed", len(games))
}

func (r *Registry) snapshot() []*Game {
	r.mu.RLock()
	defer r.mu.RUnlock()

	games := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	return games
}

// remove 遊戲結束時由 Game 在自己的鎖內呼叫
func (r *Registry) remove(g *Game) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.games[g.ID]; ok && cur == g {
		delete(r.games, g.ID)
		r.finished.Add(1)
	}
}
