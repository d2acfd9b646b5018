package game

import (
	"time"

	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

// Capture 佔領 beacon（CAPTURE）
//
// 回合未開始、beacon 不存在、或 beacon 已屬於自己時直接忽略。
//
// 演算法：
//  1. 有進行中的佔領就取消，佔領時間歸零
//  2. 記錄這次嘗試
//  3. tie-break：beacon 正在被佔領，且上一位挑戰者不是自己，
//     則 beacon 回到 neutral，不啟動新的計時器
//  4. 否則進入 inCapture，每 CaptureTick 累積時間，滿 captureTime 秒後轉移擁有權
//  5. 不論結果，把自己加進最近挑戰者
//
// 每次受理的嘗試都會立即廣播快照。
func (g *Game) Capture(userID, beaconID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.player(userID)
	if p == nil {
		return apperrors.ErrNotParticipant.WithDetails("you're not in the game " + g.ID)
	}
	if g.state != StateStarted || !p.Active {
		return nil
	}
	b := g.beacon(beaconID)
	if b == nil {
		g.logger.Debug("capture of unknown beacon ignored", "user_id", userID, "beacon_id", beaconID)
		return nil
	}
	if b.Owner == userID {
		return nil
	}

	now := g.sched.Now()

	if b.capture != nil {
		if b.capture.userID != userID {
			if prev := g.player(b.capture.userID); prev != nil {
				prev.Stats.FailedCaptures++
			}
		}
		b.capture.task.Stop()
		b.capture = nil
		b.CurrentCapturingTime = 0
	}

	attempt := CaptureAttempt{UserID: userID, At: now}
	b.Stats.LastCaptureTry = &attempt
	b.Stats.AllCaptureAttempts = append(b.Stats.AllCaptureAttempts, attempt)
	p.Stats.CaptureAttempts++

	if b.State == BeaconInCapture && b.lastChallenger != userID {
		g.setOwner(b, Neutral, now)
		b.State = BeaconCaptured
		g.logger.Debug("capture contest broken", "beacon_id", b.ID, "user_id", userID)
	} else {
		b.State = BeaconInCapture
		b.CurrentCapturingTime = 0
		run := &captureRun{userID: userID}
		run.task = g.sched.Every(CaptureTick, func() { g.captureTick(b, run) })
		b.capture = run
	}

	b.lastChallenger = userID
	g.broadcastSyncLocked(now)
	return nil
}

func (g *Game) captureTick(b *Beacon, run *captureRun) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// 已被新的嘗試取代或回合已結束
	if b.capture != run || g.state != StateStarted {
		return
	}

	step := CaptureTick.Milliseconds()
	b.CurrentCapturingTime += step
	b.Stats.TotalCapturingTime += step
	p := g.player(run.userID)
	if p != nil {
		p.Stats.TimeSpentCapturing += step
	}

	if b.CurrentCapturingTime < int64(g.settings.CaptureTime)*1000 {
		return
	}

	run.task.Stop()
	b.capture = nil
	now := g.sched.Now()

	b.CurrentCapturingTime = 0
	g.setOwner(b, run.userID, now)
	b.State = BeaconCaptured
	b.lastChallenger = ""
	if b.Stats.FirstCapturedBy == nil {
		b.Stats.FirstCapturedBy = &CaptureAttempt{UserID: run.userID, At: now}
	}
	if p != nil {
		p.Stats.SuccessfulCaptures++
	}

	g.logger.Info("beacon captured", "beacon_id", b.ID, "user_id", run.userID)
	g.emit(Event{Type: EventBeaconCaptured, UserID: run.userID, BeaconID: b.ID, At: now})
	g.broadcastSyncLocked(now)
}

// setOwner 變更擁有者並更新最長持有紀錄
func (g *Game) setOwner(b *Beacon, owner string, now time.Time) {
	if b.Owner == owner {
		return
	}
	g.recordHold(b, now)
	b.Owner = owner
	b.ownedSince = now
}

func (g *Game) recordHold(b *Beacon, now time.Time) {
	if b.Owner == Neutral || b.Owner == "" {
		return
	}
	held := now.Sub(b.ownedSince).Milliseconds()
	if held > b.Stats.LongestHold.Duration {
		b.Stats.LongestHold = Hold{UserID: b.Owner, Duration: held}
	}
}

// scoreTick 每個被佔領的 beacon 為擁有者加 pointsPerTick
func (g *Game) scoreTick() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateStarted {
		return
	}
	for _, b := range g.progress.Beacons {
		if b.Owner == Neutral {
			continue
		}
		if p := g.player(b.Owner); p != nil && p.Active {
			p.Score += g.settings.PointsPerTick
		}
	}
}

// syncTick 廣播快照，再檢查回合是否結束
func (g *Game) syncTick() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateStarted {
		return
	}
	now := g.sched.Now()
	g.broadcastSyncLocked(now)

	if reason, over := g.roundOverLocked(now); over {
		g.finishLocked(reason)
	}
}

func (g *Game) roundOverLocked(now time.Time) (FinishReason, bool) {
	if now.Sub(g.progress.StartTime) > g.progress.Length {
		return ReasonTimeLimit, true
	}
	for _, p := range g.players {
		if p.Score >= g.settings.VictoryPoints {
			return ReasonVictory, true
		}
	}
	return "", false
}

func (g *Game) beacon(id string) *Beacon {
	for _, b := range g.progress.Beacons {
		if b.ID == id {
			return b
		}
	}
	return nil
}
