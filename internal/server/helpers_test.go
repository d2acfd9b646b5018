package server_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
	"github.com/koopa0/system-design/beacon-arena/internal/server"
	"github.com/koopa0/system-design/beacon-arena/pkg/logger"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	reg   *game.Registry
	sched *game.ManualScheduler
	d     *server.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sched := game.NewManualScheduler(t0)
	reg, err := game.NewRegistry(game.RegistryConfig{
		NodeID:         1,
		Defaults:       game.DefaultSettings(),
		Beacons:        []string{"B1", "B2"},
		MaxRoundLength: 20 * time.Minute,
	}, sched, nil, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(reg.Stop)

	return &harness{
		reg:   reg,
		sched: sched,
		d:     server.NewDispatcher(reg, sched.Now, logger.Nop()),
	}
}

// send 組出一則訊息交給 Dispatcher
func (h *harness) send(t *testing.T, s *server.Session, command string, request any) {
	t.Helper()

	msg := map[string]any{"command": command}
	if request != nil {
		msg["request"] = request
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	h.d.HandleFrame(s, string(raw))
}

// connect 建立已 CONNECT 的 Session 並清掉回應
func (h *harness) connect(t *testing.T, userID string) *server.Session {
	t.Helper()

	s := server.NewSession(64)
	h.send(t, s, protocol.CmdConnect, map[string]string{"userId": userID})
	envs := drain(t, s)
	require.Len(t, envs, 1)
	require.Equal(t, protocol.StatusOK, envs[0].Status)
	return s
}

// lobby H 開房、P 加入，回傳遊戲 ID
func (h *harness) lobby(t *testing.T) (string, *server.Session, *server.Session) {
	t.Helper()

	host := h.connect(t, "H")
	h.send(t, host, protocol.CmdHost, nil)
	roster := decodeRoster(t, lastOf(t, drain(t, host), protocol.CmdHost))

	player := h.connect(t, "P")
	h.send(t, player, protocol.CmdJoin, map[string]string{"gameId": roster.GameID})
	require.Equal(t, protocol.StatusOK, lastOf(t, drain(t, player), protocol.CmdJoin).Status)
	drain(t, host)

	return roster.GameID, host, player
}

// started 兩位玩家都準備好並開始回合
func (h *harness) started(t *testing.T) (string, *server.Session, *server.Session) {
	t.Helper()

	id, host, player := h.lobby(t)
	h.send(t, host, protocol.CmdLobbyUpdate, map[string]bool{"ready": true})
	h.send(t, player, protocol.CmdLobbyUpdate, map[string]bool{"ready": true})
	h.send(t, host, protocol.CmdGame, nil)
	require.Equal(t, protocol.StatusOK, lastOf(t, drain(t, host), protocol.CmdGame).Status)
	drain(t, player)

	return id, host, player
}

// drain 取出 Session 佇列中所有訊息
func drain(t *testing.T, s *server.Session) []protocol.Envelope {
	t.Helper()

	var out []protocol.Envelope
	for {
		select {
		case line := <-s.Outbound():
			env, err := protocol.DecodeEnvelope(line)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func lastOf(t *testing.T, envs []protocol.Envelope, command string) protocol.Envelope {
	t.Helper()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Cmd() == command {
			return envs[i]
		}
	}
	t.Fatalf("no %s message in %d envelopes", command, len(envs))
	return protocol.Envelope{}
}

func decodeRoster(t *testing.T, env protocol.Envelope) game.Roster {
	t.Helper()
	var r game.Roster
	require.NoError(t, json.Unmarshal(env.Response, &r))
	return r
}

func decodeSnapshot(t *testing.T, env protocol.Envelope) game.Snapshot {
	t.Helper()
	var s game.Snapshot
	require.NoError(t, json.Unmarshal(env.Response, &s))
	return s
}
