package game

import "time"

// EventType 遊戲事件類型
type EventType string

const (
	EventGameCreated    EventType = "game.created"
	EventPlayerJoined   EventType = "player.joined"
	EventRoundStarted   EventType = "round.started"
	EventBeaconCaptured EventType = "beacon.captured"
	EventRoundFinished  EventType = "round.finished"
	EventGameClosed     EventType = "game.closed" // 回合未開始就結束
)

// Event 遊戲生命週期事件
type Event struct {
	Type     EventType    `json:"type"`
	GameID   string       `json:"gameId"`
	UserID   string       `json:"userId,omitempty"`
	BeaconID string       `json:"beaconId,omitempty"`
	At       time.Time    `json:"at"`
	Result   *RoundResult `json:"result,omitempty"`
}

// EventSink 接收事件
//
// Publish 在遊戲的鎖內被呼叫，實作不可阻塞也不可回呼遊戲。
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc 讓函式滿足 EventSink
type EventSinkFunc func(Event)

// Publish 實現 EventSink
func (f EventSinkFunc) Publish(e Event) { f(e) }

// MultiSink 將事件送往多個 sink
type MultiSink []EventSink

// Publish 實現 EventSink
func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

type nopSink struct{}

func (nopSink) Publish(Event) {}
