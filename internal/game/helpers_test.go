package game_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
	"github.com/koopa0/system-design/beacon-arena/pkg/logger"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// recorder 記錄送給某位玩家的訊息
type recorder struct {
	mu    sync.Mutex
	lines [][]byte
	full  bool
}

func (r *recorder) Send(line []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.lines = append(r.lines, append([]byte(nil), line...))
	return true
}

func (r *recorder) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(r.lines))
	for _, l := range r.lines {
		env, err := protocol.DecodeEnvelope(l)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func (r *recorder) commands(t *testing.T) []string {
	var out []string
	for _, env := range r.envelopes(t) {
		out = append(out, env.Cmd())
	}
	return out
}

// last 最後一則指定指令的訊息
func (r *recorder) last(t *testing.T, command string) protocol.Envelope {
	t.Helper()
	envs := r.envelopes(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Cmd() == command {
			return envs[i]
		}
	}
	t.Fatalf("no %s message received", command)
	return protocol.Envelope{}
}

// eventLog 記錄遊戲事件
type eventLog struct {
	mu     sync.Mutex
	events []game.Event
}

func (l *eventLog) Publish(e game.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []game.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []game.EventType
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) find(typ game.EventType) (game.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == typ {
			return e, true
		}
	}
	return game.Event{}, false
}

type fixture struct {
	reg    *game.Registry
	sched  *game.ManualScheduler
	events *eventLog
}

func newFixture(t *testing.T, mutate ...func(*game.RegistryConfig)) *fixture {
	t.Helper()

	cfg := game.RegistryConfig{
		NodeID:         1,
		Defaults:       game.DefaultSettings(),
		Beacons:        []string{"B1", "B2"},
		MaxRoundLength: 20 * time.Minute,
		LobbyTTL:       10 * time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	sched := game.NewManualScheduler(t0)
	events := &eventLog{}
	reg, err := game.NewRegistry(cfg, sched, events, logger.Nop())
	require.NoError(t, err)

	return &fixture{reg: reg, sched: sched, events: events}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

// lobby 建立遊戲並讓 P 加入
func (f *fixture) lobby(t *testing.T) (*game.Game, *recorder, *recorder) {
	t.Helper()
	host, player := &recorder{}, &recorder{}

	g, err := f.reg.Create("H", host)
	require.NoError(t, err)
	_, err = f.reg.Join(g.ID, "P", player)
	require.NoError(t, err)
	return g, host, player
}

// started 雙方準備完成並開始回合
func (f *fixture) started(t *testing.T, patch *game.SettingsPatch) (*game.Game, *recorder, *recorder) {
	t.Helper()
	g, host, player := f.lobby(t)

	require.NoError(t, g.Update("H", game.LobbyUpdate{Ready: boolPtr(true), Settings: patch}))
	require.NoError(t, g.Update("P", game.LobbyUpdate{Ready: boolPtr(true)}))
	require.NoError(t, g.Start("H"))
	return g, host, player
}
