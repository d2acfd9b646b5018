// Package game 實作遊戲大廳狀態機、beacon 佔領引擎與計分同步排程
package game

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

// Game 一場遊戲
//
// 系統設計考量：
//
//  1. 並發控制（Mutex）：
//     指令來自各玩家連線的 goroutine，計時器 callback 來自 scheduler，
//     全部在 mu 之下修改狀態，所以同一場遊戲的 handler 不會同時執行。
//     佔領計時器被取代後可能還有一次 callback 在等鎖，用 captureRun 指標比對丟棄。
//
//  2. 狀態機：
//     lobby → started → finished，只會往前。finished 之後所有計時器都已取消，
//     遊戲也從 Registry 移除。
//
//  3. 廣播：
//     訊息只序列化一次，再以非阻塞方式送給每位 active 玩家；
//     寫入緩衝滿的連線直接丟訊息，不影響其他玩家。
//
//  4. 鎖順序：
//     game.mu → registry.mu。Registry 不會在持有自己的鎖時呼叫遊戲。
type Game struct {
	ID   string
	Host string

	mu         sync.Mutex
	state      State
	settings   Settings
	players    []*Player
	beacons    []BeaconConfig
	progress   *Progress
	scoreTask  Task
	syncTask   Task
	createdAt  time.Time
	lastActive time.Time
	result     *RoundResult

	sched          Scheduler
	builder        *protocol.Builder
	events         EventSink
	logger         *slog.Logger
	maxRoundLength time.Duration
	onFinished     func(*Game)
}

type gameDeps struct {
	sched          Scheduler
	builder        *protocol.Builder
	events         EventSink
	logger         *slog.Logger
	maxRoundLength time.Duration
	onFinished     func(*Game)
}

func newGame(id, host string, sender Sender, settings Settings, beacons []BeaconConfig, deps gameDeps) *Game {
	now := deps.sched.Now()
	g := &Game{
		ID:             id,
		Host:           host,
		state:          StateLobby,
		settings:       settings,
		beacons:        slices.Clone(beacons),
		createdAt:      now,
		lastActive:     now,
		sched:          deps.sched,
		builder:        deps.builder,
		events:         deps.events,
		logger:         deps.logger.With("game_id", id),
		maxRoundLength: deps.maxRoundLength,
		onFinished:     deps.onFinished,
	}
	g.players = append(g.players, &Player{UserID: host, Active: true, sender: sender})
	return g
}

// State 目前狀態
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Settings 目前設定
func (g *Game) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// Result 回合結果，回合未結束時為 nil
func (g *Game) Result() *RoundResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result
}

// HasPlayer 是否為此遊戲的玩家
func (g *Game) HasPlayer(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.player(userID) != nil
}

// Roster 目前的大廳名單
func (g *Game) Roster() Roster {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rosterLocked()
}

// Snapshot 目前的回合快照，回合未開始時為 nil
func (g *Game) Snapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Summary 管理 API 用的摘要
func (g *Game) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Summary{
		GameID:     g.ID,
		Host:       g.Host,
		State:      g.state,
		Players:    len(g.players),
		MaxPlayers: g.settings.MaxPlayers,
		Beacons:    len(g.beacons),
		CreatedAt:  g.createdAt,
	}
	if g.progress != nil {
		started := g.progress.StartTime
		s.StartedAt = &started
	}
	return s
}

// AddPlayer 加入遊戲（JOIN）
//
// 成功後廣播新名單給所有玩家。
func (g *Game) AddPlayer(userID string, sender Sender) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if userID == g.Host {
		return apperrors.ErrAlreadyHosting.WithDetails("you can't join the game you host")
	}
	if g.state != StateLobby {
		return apperrors.ErrWrongRoundState.WithDetails("game already started or finished")
	}
	if g.player(userID) != nil {
		return apperrors.ErrAlreadyHosting.WithDetails("you have already joined this game")
	}
	if len(g.players) >= g.settings.MaxPlayers {
		return apperrors.ErrGameFull.WithDetails("maximum players amount exceeded")
	}

	g.players = append(g.players, &Player{UserID: userID, Active: true, sender: sender})
	g.lastActive = g.sched.Now()

	g.logger.Info("player joined", "user_id", userID, "players", len(g.players))
	g.emit(Event{Type: EventPlayerJoined, UserID: userID})
	g.broadcastRosterLocked(protocol.CmdJoin)
	return nil
}

// LobbyUpdate LOBBY_UPDATE 的內容
type LobbyUpdate struct {
	Ready    *bool          `json:"ready,omitempty"`
	Settings *SettingsPatch `json:"settings,omitempty"`
	Beacons  []BeaconConfig `json:"beacons,omitempty"`
}

// Update 修改準備狀態或設定（LOBBY_UPDATE）
//
// 設定與 beacon 只有房主可以改，其他玩家送來的這兩個欄位直接忽略。
// 不論有沒有變更都會廣播名單。
func (g *Game) Update(userID string, req LobbyUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateLobby {
		return apperrors.ErrWrongRoundState.WithDetails("game already started or finished")
	}
	p := g.player(userID)
	if p == nil {
		return apperrors.ErrNotParticipant.WithDetails(fmt.Sprintf("you're not in the game %s", g.ID))
	}

	if userID == g.Host {
		if req.Settings != nil {
			s, err := g.settings.Apply(*req.Settings, len(g.players))
			if err != nil {
				return err
			}
			g.settings = s
		}
		if req.Beacons != nil {
			if err := validateBeacons(req.Beacons); err != nil {
				return err
			}
			g.beacons = slices.Clone(req.Beacons)
		}
	}
	if req.Ready != nil {
		p.Ready = *req.Ready
	}
	g.lastActive = g.sched.Now()

	g.broadcastRosterLocked(protocol.CmdLobbyUpdate)
	return nil
}

func validateBeacons(beacons []BeaconConfig) error {
	seen := make(map[string]struct{}, len(beacons))
	for _, b := range beacons {
		if b.BeaconID == "" {
			return apperrors.ErrInvalidSettings.WithDetails("beaconId must not be empty")
		}
		if _, dup := seen[b.BeaconID]; dup {
			return apperrors.ErrInvalidSettings.WithDetails(fmt.Sprintf("duplicate beaconId %q", b.BeaconID))
		}
		seen[b.BeaconID] = struct{}{}
	}
	return nil
}

// Start 開始回合（GAME）
//
// 檢查順序：房主身分、遊戲狀態、所有玩家已準備。
func (g *Game) Start(userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if userID != g.Host {
		return apperrors.ErrNotHost.WithDetails("you're not the host")
	}
	if g.state != StateLobby {
		return apperrors.ErrWrongRoundState.WithDetails("game already started or finished")
	}
	notReady := 0
	for _, p := range g.players {
		if !p.Ready {
			notReady++
		}
	}
	if notReady > 0 {
		return apperrors.ErrPlayersNotReady.WithDetails(fmt.Sprintf("%d player(s) aren't ready yet.", notReady))
	}

	now := g.sched.Now()
	g.progress = &Progress{
		StartTime: now,
		Length:    g.roundLength(),
	}
	for _, cfg := range g.beacons {
		g.progress.Beacons = append(g.progress.Beacons, &Beacon{
			ID:    cfg.BeaconID,
			State: BeaconCaptured,
			Owner: Neutral,
		})
	}
	for _, p := range g.players {
		p.Score = 0
		p.Stats = PlayerStats{}
		p.LastSyncTime = now
	}
	g.state = StateStarted

	g.scoreTask = g.sched.Every(ScoreTick, g.scoreTick)
	g.syncTask = g.sched.Every(SyncTick, g.syncTick)

	g.logger.Info("round started",
		"players", len(g.players),
		"beacons", len(g.progress.Beacons),
		"length", g.progress.Length,
	)
	g.emit(Event{Type: EventRoundStarted, UserID: userID})

	g.broadcastRosterLocked(protocol.CmdGame)
	g.broadcastSyncLocked(now)
	return nil
}

// roundLength gameTime 分鐘，上限為 maxRoundLength
//
// 先以分鐘比較再換算，gameTime 很大時不會溢位。
func (g *Game) roundLength() time.Duration {
	minutes := int64(g.settings.GameTime)
	if g.maxRoundLength > 0 && minutes > int64(g.maxRoundLength/time.Minute) {
		return g.maxRoundLength
	}
	return time.Duration(minutes) * time.Minute
}

// Sync 立即廣播快照（CAPTURED），回合未開始時不做事
func (g *Game) Sync() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateStarted {
		return
	}
	g.broadcastSyncLocked(g.sched.Now())
}

// End 房主結束遊戲（END）
func (g *Game) End(userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if userID != g.Host {
		return apperrors.ErrNotHost.WithDetails("you're not the host")
	}
	if g.state == StateFinished {
		return apperrors.ErrWrongRoundState.WithDetails("game already finished")
	}
	g.finishLocked(ReasonHostEnded)
	return nil
}

// Leave 玩家斷線
//
//   - 房主離開：遊戲對所有人結束
//   - lobby 中的玩家離開：從名單移除並廣播
//   - 回合中的玩家離開：標記為 inactive，保留在快照中
func (g *Game) Leave(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateFinished {
		return
	}
	p := g.player(userID)
	if p == nil {
		return
	}
	if userID == g.Host {
		g.finishLocked(ReasonHostLeft)
		return
	}

	switch g.state {
	case StateLobby:
		g.players = slices.DeleteFunc(g.players, func(other *Player) bool { return other == p })
		g.lastActive = g.sched.Now()
		g.logger.Info("player left lobby", "user_id", userID)
		g.broadcastRosterLocked(protocol.CmdLobbyUpdate)
	case StateStarted:
		p.Active = false
		p.sender = nil
		for _, b := range g.progress.Beacons {
			if b.capture != nil && b.capture.userID == userID {
				b.capture.task.Stop()
				b.capture = nil
				b.CurrentCapturingTime = 0
				b.State = BeaconCaptured
			}
		}
		g.logger.Info("player left round", "user_id", userID)
		g.broadcastSyncLocked(g.sched.Now())
	}
}

// Expire lobby 閒置超過 ttl 時結束遊戲，回傳是否結束
func (g *Game) Expire(now time.Time, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateLobby || now.Sub(g.lastActive) <= ttl {
		return false
	}
	g.finishLocked(ReasonLobbyExpired)
	return true
}

// Close 以指定原因結束遊戲，已結束時不做事
func (g *Game) Close(reason FinishReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finishLocked(reason)
}

// Cleanup 取消所有計時器，可重複呼叫
func (g *Game) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleanupLocked()
}

func (g *Game) cleanupLocked() {
	if g.scoreTask != nil {
		g.scoreTask.Stop()
		g.scoreTask = nil
	}
	if g.syncTask != nil {
		g.syncTask.Stop()
		g.syncTask = nil
	}
	if g.progress == nil {
		return
	}
	for _, b := range g.progress.Beacons {
		if b.capture != nil {
			b.capture.task.Stop()
			b.capture = nil
		}
	}
}

// finishLocked 結束遊戲：取消計時器、計算結果、廣播 END、從 Registry 移除
func (g *Game) finishLocked(reason FinishReason) {
	if g.state == StateFinished {
		return
	}
	g.cleanupLocked()

	now := g.sched.Now()
	started := g.state == StateStarted
	g.state = StateFinished

	end := EndOfGame{GameID: g.ID, Reason: reason}
	if started {
		for _, b := range g.progress.Beacons {
			g.recordHold(b, now)
		}
		g.result = g.resultLocked(reason, now)
		end.Result = g.result
		end.Snapshot = g.snapshotLocked()
	}

	g.logger.Info("game finished", "reason", reason, "round_played", started)
	if started {
		g.emit(Event{Type: EventRoundFinished, Result: g.result})
	} else {
		g.emit(Event{Type: EventGameClosed})
	}

	g.broadcastLocked(protocol.CmdEnd, end)

	if g.onFinished != nil {
		g.onFinished(g)
	}
}

func (g *Game) resultLocked(reason FinishReason, now time.Time) *RoundResult {
	r := &RoundResult{
		GameID:    g.ID,
		Host:      g.Host,
		Reason:    reason,
		StartedAt: g.progress.StartTime,
		EndedAt:   now,
	}

	best, tie := -1, false
	for _, p := range g.players {
		r.Players = append(r.Players, PlayerResult{
			UserID: p.UserID,
			Score:  p.Score,
			Stats:  p.Stats,
			Active: p.Active,
		})
		switch {
		case p.Score > best:
			best, tie = p.Score, false
			r.Winner = p.UserID
		case p.Score == best:
			tie = true
		}
	}
	if tie {
		r.Winner = ""
	}

	for _, b := range g.progress.Beacons {
		r.Beacons = append(r.Beacons, BeaconResult{
			BeaconID:           b.ID,
			Owner:              b.Owner,
			CaptureAttempts:    len(b.Stats.AllCaptureAttempts),
			TotalCapturingTime: b.Stats.TotalCapturingTime,
			FirstCapturedBy:    b.Stats.FirstCapturedBy,
			LongestHold:        b.Stats.LongestHold,
		})
	}
	return r
}

func (g *Game) player(userID string) *Player {
	for _, p := range g.players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (g *Game) rosterLocked() Roster {
	r := Roster{
		GameID:   g.ID,
		Host:     g.Host,
		State:    g.state,
		Settings: g.settings,
		Beacons:  slices.Clone(g.beacons),
		Players:  make([]RosterPlayer, 0, len(g.players)),
	}
	if r.Beacons == nil {
		r.Beacons = []BeaconConfig{}
	}
	for _, p := range g.players {
		r.Players = append(r.Players, RosterPlayer{UserID: p.UserID, Ready: p.Ready})
	}
	return r
}

func (g *Game) snapshotLocked() *Snapshot {
	if g.progress == nil {
		return nil
	}
	s := &Snapshot{
		GameID:        g.ID,
		Beacons:       make([]BeaconView, 0, len(g.progress.Beacons)),
		Players:       make([]PlayerView, 0, len(g.players)),
		GameStartTime: g.progress.StartTime.UnixMilli(),
		GameLength:    g.progress.Length.Milliseconds(),
	}
	for _, b := range g.progress.Beacons {
		s.Beacons = append(s.Beacons, BeaconView{
			BeaconID:             b.ID,
			State:                b.State,
			Owner:                b.Owner,
			CurrentCapturingTime: b.CurrentCapturingTime,
			MovementLockTime:     b.MovementLockTime,
		})
	}
	for _, p := range g.players {
		s.Players = append(s.Players, PlayerView{
			UserID:       p.UserID,
			Score:        p.Score,
			Stats:        p.Stats,
			LastSyncDate: p.LastSyncTime.UnixMilli(),
			Active:       p.Active,
		})
	}
	return s
}

func (g *Game) broadcastRosterLocked(command string) {
	g.broadcastLocked(command, g.rosterLocked())
}

func (g *Game) broadcastSyncLocked(now time.Time) {
	for _, p := range g.players {
		if p.Active {
			p.LastSyncTime = now
		}
	}
	g.broadcastLocked(protocol.CmdSync, g.snapshotLocked())
}

// broadcastLocked 序列化一次後送給所有 active 玩家
func (g *Game) broadcastLocked(command string, payload any) {
	line, err := g.builder.OK(command, payload)
	if err != nil {
		g.logger.Error("failed to encode broadcast", "command", command, "error", err)
		return
	}
	for _, p := range g.players {
		if !p.Active || p.sender == nil {
			continue
		}
		if !p.sender.Send(line) {
			g.logger.Warn("send buffer full, message dropped", "user_id", p.UserID, "command", command)
		}
	}
}

func (g *Game) emit(e Event) {
	e.GameID = g.ID
	if e.At.IsZero() {
		e.At = g.sched.Now()
	}
	g.events.Publish(e)
}
