package game

import (
	"fmt"

	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

// Settings 遊戲設定
//
// 時間單位沿用客戶端協定：captureTime 與 afterCaptureDelay 是秒，gameTime 是分鐘。
type Settings struct {
	CaptureTime       int `json:"captureTime"`
	AfterCaptureDelay int `json:"afterCaptureDelay"` // 目前只保存，引擎不使用
	GameTime          int `json:"gameTime"`
	VictoryPoints     int `json:"victoryPoints"`
	PointsPerTick     int `json:"pointsPerTick"`
	TickPeriod        int `json:"tickPeriod"` // 目前只保存，計分週期固定為 ScoreTick
	MaxPlayers        int `json:"maxPlayers"`
}

// 設定上限，避免換算成毫秒或 time.Duration 時溢位
//
// 單位與 Settings 相同：秒、分鐘、分數。
const (
	MaxCaptureTime       = 3600
	MaxAfterCaptureDelay = 3600
	MaxGameTime          = 24 * 60
	MaxVictoryPoints     = 1_000_000_000
	MaxPointsPerTick     = 1_000_000
	MaxTickPeriod        = 3600
)

// DefaultSettings 新遊戲的預設值
func DefaultSettings() Settings {
	return Settings{
		CaptureTime:       5,
		AfterCaptureDelay: 10,
		GameTime:          10,
		VictoryPoints:     10000,
		PointsPerTick:     10,
		TickPeriod:        10,
		MaxPlayers:        2,
	}
}

// SettingsPatch LOBBY_UPDATE 可以修改的欄位
//
// 只有這些欄位可以被房主修改；host、state、players 等結構欄位不在其中。
type SettingsPatch struct {
	CaptureTime       *int `json:"captureTime,omitempty"`
	AfterCaptureDelay *int `json:"afterCaptureDelay,omitempty"`
	GameTime          *int `json:"gameTime,omitempty"`
	VictoryPoints     *int `json:"victoryPoints,omitempty"`
	PointsPerTick     *int `json:"pointsPerTick,omitempty"`
	TickPeriod        *int `json:"tickPeriod,omitempty"`
	MaxPlayers        *int `json:"maxPlayers,omitempty"`
}

// Apply 套用修改並驗證，players 是目前的玩家數
func (s Settings) Apply(p SettingsPatch, players int) (Settings, error) {
	out := s
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&out.CaptureTime, p.CaptureTime)
	set(&out.AfterCaptureDelay, p.AfterCaptureDelay)
	set(&out.GameTime, p.GameTime)
	set(&out.VictoryPoints, p.VictoryPoints)
	set(&out.PointsPerTick, p.PointsPerTick)
	set(&out.TickPeriod, p.TickPeriod)
	set(&out.MaxPlayers, p.MaxPlayers)

	if err := out.validate(players); err != nil {
		return s, err
	}
	return out, nil
}

func (s Settings) validate(players int) error {
	switch {
	case s.CaptureTime < 1 || s.CaptureTime > MaxCaptureTime:
		return invalidSettings(fmt.Sprintf("captureTime must be between 1 and %d seconds", MaxCaptureTime))
	case s.AfterCaptureDelay < 0 || s.AfterCaptureDelay > MaxAfterCaptureDelay:
		return invalidSettings(fmt.Sprintf("afterCaptureDelay must be between 0 and %d seconds", MaxAfterCaptureDelay))
	case s.GameTime < 1 || s.GameTime > MaxGameTime:
		return invalidSettings(fmt.Sprintf("gameTime must be between 1 and %d minutes", MaxGameTime))
	case s.VictoryPoints < 1 || s.VictoryPoints > MaxVictoryPoints:
		return invalidSettings(fmt.Sprintf("victoryPoints must be between 1 and %d", MaxVictoryPoints))
	case s.PointsPerTick < 0 || s.PointsPerTick > MaxPointsPerTick:
		return invalidSettings(fmt.Sprintf("pointsPerTick must be between 0 and %d", MaxPointsPerTick))
	case s.TickPeriod < 0 || s.TickPeriod > MaxTickPeriod:
		return invalidSettings(fmt.Sprintf("tickPeriod must be between 0 and %d", MaxTickPeriod))
	case s.MaxPlayers < 1:
		return invalidSettings("maxPlayers must be at least 1")
	case s.MaxPlayers < players:
		return invalidSettings(fmt.Sprintf("maxPlayers can't be lower than the %d player(s) already in the game", players))
	}
	return nil
}

func invalidSettings(msg string) error {
	return apperrors.ErrInvalidSettings.WithDetails(msg)
}
