package game

import (
	"time"
)

// State 遊戲狀態，只會往前：lobby → started → finished
type State string

const (
	StateLobby    State = "lobby"
	StateStarted  State = "started"
	StateFinished State = "finished"
)

// BeaconState beacon 狀態
type BeaconState string

const (
	BeaconCaptured  BeaconState = "captured"
	BeaconInCapture BeaconState = "inCapture"
)

// Neutral 無人佔領的 beacon owner
const Neutral = "neutral"

// FinishReason 遊戲結束原因
type FinishReason string

const (
	ReasonTimeLimit      FinishReason = "time_limit"
	ReasonVictory        FinishReason = "victory"
	ReasonHostEnded      FinishReason = "host_ended"
	ReasonHostLeft       FinishReason = "host_left"
	ReasonLobbyExpired   FinishReason = "lobby_expired"
	ReasonServerShutdown FinishReason = "server_shutdown"
)

// Sender 玩家連線的寫入端，不能阻塞
type Sender interface {
	Send(line []byte) bool
}

// PlayerStats 玩家回合統計，時間單位為毫秒
type PlayerStats struct {
	TimeSpentCapturing int64 `json:"timeSpentOnCaptures"`
	CaptureAttempts    int   `json:"totalCaptureTries"`
	SuccessfulCaptures int   `json:"succeededCaptures"`
	FailedCaptures     int   `json:"failedCaptures"`
}

// Player 遊戲中的玩家
//
// 回合中斷線的玩家不會被移除，只標記為 inactive：不再計分也不再收到廣播。
type Player struct {
	UserID       string
	Ready        bool
	Score        int
	Stats        PlayerStats
	LastSyncTime time.Time
	Active       bool

	sender Sender
}

// BeaconConfig lobby 階段設定的 beacon
type BeaconConfig struct {
	BeaconID string `json:"beaconId"`
}

// CaptureAttempt 一次佔領嘗試
type CaptureAttempt struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"date"`
}

// Hold 最長持有紀錄
type Hold struct {
	UserID   string `json:"by"`
	Duration int64  `json:"time"` // 毫秒
}

// BeaconStats beacon 回合統計
type BeaconStats struct {
	AllCaptureAttempts []CaptureAttempt
	LastCaptureTry     *CaptureAttempt
	TotalCapturingTime int64 // 毫秒
	FirstCapturedBy    *CaptureAttempt
	LongestHold        Hold
}

// Beacon 回合中的 beacon
type Beacon struct {
	ID                   string
	State                BeaconState
	Owner                string
	CurrentCapturingTime int64 // 毫秒
	MovementLockTime     int64 // 毫秒，目前固定為 0
	Stats                BeaconStats

	lastChallenger string // tie-break 只需要最後一位挑戰者
	capture        *captureRun
	ownedSince     time.Time
}

// captureRun 一次進行中的佔領
//
// 計時 callback 以指標比對判斷自己是否已被取代。
type captureRun struct {
	userID string
	task   Task
}

// Progress 回合進度，只在 started 之後存在
type Progress struct {
	Beacons   []*Beacon
	StartTime time.Time
	Length    time.Duration
}

// RosterPlayer lobby 名單中的玩家
type RosterPlayer struct {
	UserID string `json:"userId"`
	Ready  bool   `json:"ready"`
}

// Roster HOST / JOIN / LOBBY_UPDATE / GAME 的回應
type Roster struct {
	GameID   string         `json:"gameId"`
	Host     string         `json:"host"`
	State    State          `json:"state"`
	Settings Settings       `json:"settings"`
	Beacons  []BeaconConfig `json:"beacons"`
	Players  []RosterPlayer `json:"players"`
}

// BeaconView 快照中的 beacon，不含計時器與嘗試紀錄
type BeaconView struct {
	BeaconID             string      `json:"beaconId"`
	State                BeaconState `json:"state"`
	Owner                string      `json:"owner"`
	CurrentCapturingTime int64       `json:"currentCapturingTime"`
	MovementLockTime     int64       `json:"movementLockTime"`
}

// PlayerView 快照中的玩家
type PlayerView struct {
	UserID       string      `json:"userId"`
	Score        int         `json:"score"`
	Stats        PlayerStats `json:"stats"`
	LastSyncDate int64       `json:"lastSyncDate"`
	Active       bool        `json:"active"`
}

// Snapshot SYNC 廣播的內容
type Snapshot struct {
	GameID        string       `json:"gameId"`
	Beacons       []BeaconView `json:"beacons"`
	Players       []PlayerView `json:"players"`
	GameStartTime int64        `json:"gameStartTime"`
	GameLength    int64        `json:"gameLength"`
}

// PlayerResult 回合結果中的玩家
type PlayerResult struct {
	UserID string      `json:"userId"`
	Score  int         `json:"score"`
	Stats  PlayerStats `json:"stats"`
	Active bool        `json:"active"`
}

// BeaconResult 回合結果中的 beacon
type BeaconResult struct {
	BeaconID           string          `json:"beaconId"`
	Owner              string          `json:"owner"`
	CaptureAttempts    int             `json:"captureAttempts"`
	TotalCapturingTime int64           `json:"totalCapturingTime"`
	FirstCapturedBy    *CaptureAttempt `json:"firstCapturedBy,omitempty"`
	LongestHold        Hold            `json:"longestHold"`
}

// RoundResult 回合結束的結果
//
// 最高分只有一位時為 Winner，平手時 Winner 為空。
type RoundResult struct {
	GameID    string         `json:"gameId"`
	Host      string         `json:"host"`
	Reason    FinishReason   `json:"reason"`
	Winner    string         `json:"winner,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	Players   []PlayerResult `json:"players"`
	Beacons   []BeaconResult `json:"beacons"`
}

// EndOfGame END 廣播的內容
type EndOfGame struct {
	GameID   string       `json:"gameId"`
	Reason   FinishReason `json:"reason"`
	Result   *RoundResult `json:"result,omitempty"`
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
}

// Summary 管理 API 用的遊戲摘要
type Summary struct {
	GameID     string     `json:"gameId"`
	Host       string     `json:"host"`
	State      State      `json:"state"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"maxPlayers"`
	Beacons    int        `json:"beacons"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
}
