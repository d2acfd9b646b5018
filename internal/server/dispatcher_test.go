package server_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
	"github.com/koopa0/system-design/beacon-arena/internal/server"
	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

func TestDispatcher_RequiresConnect(t *testing.T) {
	h := newHarness(t)

	commands := []string{
		protocol.CmdHost, protocol.CmdJoin, protocol.CmdLobbyUpdate, protocol.CmdGame,
		protocol.CmdCapture, protocol.CmdCaptured, protocol.CmdEnd, protocol.CmdPing, protocol.CmdPong,
	}
	for _, cmd := range commands {
		t.Run(cmd, func(t *testing.T) {
			s := server.NewSession(8)
			h.send(t, s, cmd, nil)

			envs := drain(t, s)
			require.Len(t, envs, 1)
			assert.Equal(t, protocol.StatusErr, envs[0].Status)
			assert.Equal(t, cmd, envs[0].Cmd())
			assert.Equal(t, apperrors.ErrCodeAuthRequired, envs[0].Code)
		})
	}
	assert.Equal(t, 0, h.reg.Count())
}

func TestDispatcher_Connect(t *testing.T) {
	h := newHarness(t)
	s := server.NewSession(8)

	h.send(t, s, protocol.CmdConnect, map[string]string{"userId": ""})
	env := drain(t, s)[0]
	assert.Equal(t, apperrors.ErrCodeNoUserID, env.Code)
	assert.Empty(t, s.UserID())

	h.send(t, s, protocol.CmdConnect, map[string]string{"userId": "alice"})
	env = drain(t, s)[0]
	assert.Equal(t, protocol.StatusOK, env.Status)
	assert.Equal(t, protocol.CmdConnect, env.Cmd())
	assert.JSONEq(t, `{"userId":"alice"}`, string(env.Response))
	assert.Equal(t, t0.UnixMilli(), env.Date)

	// userID 只能設定一次
	for _, id := range []string{"alice", "bob", ""} {
		h.send(t, s, protocol.CmdConnect, map[string]string{"userId": id})
		env = drain(t, s)[0]
		assert.Equal(t, protocol.StatusErr, env.Status)
		assert.Equal(t, apperrors.ErrCodeAlreadyConnected, env.Code)
	}
	assert.Equal(t, "alice", s.UserID())
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	h := newHarness(t)
	s := server.NewSession(8)

	// 未知指令優先於身分檢查
	h.send(t, s, "DANCE", nil)

	env := drain(t, s)[0]
	assert.Equal(t, protocol.StatusErr, env.Status)
	assert.Equal(t, "DANCE", env.Cmd())
	assert.Equal(t, apperrors.ErrCodeUnknownCommand, env.Code)
	assert.Contains(t, env.Description, "DANCE")
}

func TestDispatcher_MalformedFrames(t *testing.T) {
	h := newHarness(t)
	s := server.NewSession(8)

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"command":`},
		{"no command", `{"request":{"userId":"x"}}`},
		{"json array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.d.HandleFrame(s, tt.frame)

			envs := drain(t, s)
			require.Len(t, envs, 1)
			assert.Equal(t, protocol.StatusErr, envs[0].Status)
			assert.Nil(t, envs[0].Command)
			assert.Equal(t, apperrors.ErrCodeParseError, envs[0].Code)
		})
	}

	// 錯誤的訊息不影響之後的訊息
	h.send(t, s, protocol.CmdConnect, map[string]string{"userId": "alice"})
	assert.Equal(t, protocol.StatusOK, drain(t, s)[0].Status)
}

func TestDispatcher_BadRequestPayload(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, "H")

	h.d.HandleFrame(s, `{"command":"JOIN","request":{"gameId":42}}`)

	env := drain(t, s)[0]
	assert.Equal(t, protocol.CmdJoin, env.Cmd())
	assert.Equal(t, apperrors.ErrCodeParseError, env.Code)
}

func TestDispatcher_ReportFrameError(t *testing.T) {
	h := newHarness(t)
	s := server.NewSession(8)

	h.d.ReportFrameError(s, protocol.ErrFrameTooLong)

	env := drain(t, s)[0]
	assert.Nil(t, env.Command)
	assert.Equal(t, apperrors.ErrCodeParseError, env.Code)
	assert.Contains(t, env.Description, "maximum length")
}

func TestDispatcher_PingPong(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, "H")

	h.send(t, s, protocol.CmdPing, nil)
	h.send(t, s, protocol.CmdPong, nil)

	envs := drain(t, s)
	require.Len(t, envs, 2)
	assert.Equal(t, protocol.CmdPong, envs[0].Cmd())
	assert.Equal(t, protocol.CmdPing, envs[1].Cmd())
	for _, env := range envs {
		assert.Equal(t, protocol.StatusOK, env.Status)
		assert.JSONEq(t, `{}`, string(env.Response))
	}
}

func TestDispatcher_HostAndJoin(t *testing.T) {
	h := newHarness(t)
	id, host, player := h.lobby(t)

	g, err := h.reg.Get(id)
	require.NoError(t, err)
	assert.True(t, g.HasPlayer("H"))
	assert.True(t, g.HasPlayer("P"))

	t.Run("host twice", func(t *testing.T) {
		h.send(t, host, protocol.CmdHost, nil)
		env := drain(t, host)[0]
		assert.Equal(t, protocol.CmdHost, env.Cmd())
		assert.Equal(t, apperrors.ErrCodeAlreadyHosting, env.Code)
		assert.Equal(t, 1, h.reg.Count())
	})

	t.Run("join while in a game", func(t *testing.T) {
		h.send(t, player, protocol.CmdJoin, map[string]string{"gameId": id})
		env := drain(t, player)[0]
		assert.Equal(t, apperrors.ErrCodeAlreadyHosting, env.Code)
	})

	t.Run("game full", func(t *testing.T) {
		q := h.connect(t, "Q")
		h.send(t, q, protocol.CmdJoin, map[string]string{"gameId": id})
		env := drain(t, q)[0]
		assert.Equal(t, apperrors.ErrCodeGameFull, env.Code)
		assert.Len(t, g.Roster().Players, 2)
		assert.Empty(t, drain(t, host))
	})

	t.Run("unknown game", func(t *testing.T) {
		q := h.connect(t, "Q2")
		h.send(t, q, protocol.CmdJoin, map[string]string{"gameId": "nope"})
		env := drain(t, q)[0]
		assert.Equal(t, apperrors.ErrCodeGameNotFound, env.Code)
	})
}

func TestDispatcher_CommandsWithoutGame(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, "H")

	for _, cmd := range []string{protocol.CmdLobbyUpdate, protocol.CmdGame, protocol.CmdCapture, protocol.CmdCaptured, protocol.CmdEnd} {
		h.send(t, s, cmd, nil)
		env := drain(t, s)[0]
		assert.Equal(t, cmd, env.Cmd())
		assert.Equal(t, apperrors.ErrCodeGameNotFound, env.Code, cmd)
	}
}

func TestDispatcher_StartRound(t *testing.T) {
	h := newHarness(t)
	id, host, player := h.lobby(t)

	h.send(t, host, protocol.CmdLobbyUpdate, map[string]bool{"ready": true})
	h.send(t, host, protocol.CmdGame, nil)
	env := lastOf(t, drain(t, host), protocol.CmdGame)
	assert.Equal(t, protocol.StatusErr, env.Status)
	assert.Equal(t, apperrors.ErrCodePlayersNotReady, env.Code)
	assert.Contains(t, env.Description, "1 player(s)")

	h.send(t, player, protocol.CmdLobbyUpdate, map[string]bool{"ready": true})
	drain(t, host)
	drain(t, player)

	h.send(t, player, protocol.CmdGame, nil)
	env = drain(t, player)[0]
	assert.Equal(t, apperrors.ErrCodeNotHost, env.Code)

	h.send(t, host, protocol.CmdGame, nil)
	g, err := h.reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, game.StateStarted, g.State())

	for _, s := range []*server.Session{host, player} {
		envs := drain(t, s)
		assert.Equal(t, game.StateStarted, decodeRoster(t, lastOf(t, envs, protocol.CmdGame)).State)
		snap := decodeSnapshot(t, lastOf(t, envs, protocol.CmdSync))
		assert.Equal(t, id, snap.GameID)
		assert.Equal(t, (10 * time.Minute).Milliseconds(), snap.GameLength)
	}

	// 回合中不能再改設定
	h.send(t, host, protocol.CmdLobbyUpdate, map[string]bool{"ready": false})
	env = drain(t, host)[0]
	assert.Equal(t, apperrors.ErrCodeWrongRoundState, env.Code)
}

func TestDispatcher_LobbySettings(t *testing.T) {
	h := newHarness(t)
	id, host, player := h.lobby(t)

	h.send(t, player, protocol.CmdLobbyUpdate, map[string]any{
		"settings": map[string]int{"victoryPoints": 1},
	})
	h.send(t, host, protocol.CmdLobbyUpdate, map[string]any{
		"settings": map[string]int{"captureTime": 3},
	})

	g, err := h.reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Settings().CaptureTime)
	assert.Equal(t, game.DefaultSettings().VictoryPoints, g.Settings().VictoryPoints)

	roster := decodeRoster(t, lastOf(t, drain(t, player), protocol.CmdLobbyUpdate))
	assert.Equal(t, 3, roster.Settings.CaptureTime)
	drain(t, host)
}

func TestDispatcher_CaptureFlow(t *testing.T) {
	h := newHarness(t)
	id, host, player := h.started(t)

	h.send(t, host, protocol.CmdCapture, map[string]string{"beaconId": "B1"})
	h.sched.Advance(5 * time.Second)

	g, err := h.reg.Get(id)
	require.NoError(t, err)
	snap := g.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "H", snap.Beacons[0].Owner)
	assert.Equal(t, game.BeaconCaptured, snap.Beacons[0].State)

	// 玩家都會收到 SYNC
	for _, s := range []*server.Session{host, player} {
		last := decodeSnapshot(t, lastOf(t, drain(t, s), protocol.CmdSync))
		assert.Equal(t, "H", last.Beacons[0].Owner)
	}

	// CAPTURED 立即同步
	h.send(t, player, protocol.CmdCaptured, nil)
	envs := drain(t, player)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.CmdSync, envs[0].Cmd())
	drain(t, host)

	// 擁有者重複佔領會被忽略
	h.send(t, host, protocol.CmdCapture, map[string]string{"beaconId": "B1"})
	assert.Empty(t, drain(t, host))
}

func TestDispatcher_EndRound(t *testing.T) {
	h := newHarness(t)
	id, host, player := h.started(t)

	h.send(t, player, protocol.CmdEnd, nil)
	assert.Equal(t, apperrors.ErrCodeNotHost, drain(t, player)[0].Code)

	h.send(t, host, protocol.CmdEnd, nil)
	for _, s := range []*server.Session{host, player} {
		env := lastOf(t, drain(t, s), protocol.CmdEnd)
		var end game.EndOfGame
		require.NoError(t, json.Unmarshal(env.Response, &end))
		assert.Equal(t, id, end.GameID)
		assert.Equal(t, game.ReasonHostEnded, end.Reason)
		require.NotNil(t, end.Result)
	}

	_, err := h.reg.Get(id)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Zero(t, h.sched.Active())

	// 結束後可以開新遊戲
	h.send(t, player, protocol.CmdHost, nil)
	assert.Equal(t, protocol.StatusOK, lastOf(t, drain(t, player), protocol.CmdHost).Status)
}

func TestDispatcher_Disconnect(t *testing.T) {
	t.Run("player leaves lobby", func(t *testing.T) {
		h := newHarness(t)
		id, host, player := h.lobby(t)

		h.d.Disconnect(player)

		g, err := h.reg.Get(id)
		require.NoError(t, err)
		assert.False(t, g.HasPlayer("P"))
		roster := decodeRoster(t, lastOf(t, drain(t, host), protocol.CmdLobbyUpdate))
		assert.Len(t, roster.Players, 1)
	})

	t.Run("host leaves round", func(t *testing.T) {
		h := newHarness(t)
		id, host, player := h.started(t)

		h.d.Disconnect(host)

		env := lastOf(t, drain(t, player), protocol.CmdEnd)
		var end game.EndOfGame
		require.NoError(t, json.Unmarshal(env.Response, &end))
		assert.Equal(t, game.ReasonHostLeft, end.Reason)

		_, err := h.reg.Get(id)
		assert.Error(t, err)
		assert.Zero(t, h.sched.Active())
	})

	t.Run("session without game", func(t *testing.T) {
		h := newHarness(t)
		s := server.NewSession(8)
		assert.NotPanics(t, func() { h.d.Disconnect(s) })
	})
}
