package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/store"
	"github.com/koopa0/system-design/beacon-arena/pkg/logger"
)

type fakeSink struct {
	mu    sync.Mutex
	saved []string
	err   error
	block chan struct{}
}

func (s *fakeSink) SaveRound(ctx context.Context, r *game.RoundResult) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, r.GameID)
	return nil
}

func (s *fakeSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

func finished(id string) game.Event {
	return game.Event{
		Type:   game.EventRoundFinished,
		GameID: id,
		Result: &game.RoundResult{GameID: id},
	}
}

func TestRecorder_WritesEverySink(t *testing.T) {
	good := &fakeSink{}
	bad := &fakeSink{err: errors.New("db down")}
	other := &fakeSink{}

	rec := store.NewRecorder(store.RecorderConfig{Buffer: 8}, logger.Nop(), bad, good, other)

	rec.Publish(finished("g1"))
	rec.Publish(game.Event{Type: game.EventBeaconCaptured, GameID: "g1"})
	rec.Publish(game.Event{Type: game.EventRoundFinished, GameID: "g-nil"})
	rec.Publish(finished("g2"))
	rec.Close()

	// 失敗的 sink 不影響其他 sink
	assert.Equal(t, []string{"g1", "g2"}, good.ids())
	assert.Equal(t, []string{"g1", "g2"}, other.ids())
	assert.Empty(t, bad.ids())
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	rec := store.NewRecorder(store.RecorderConfig{Buffer: 1, Timeout: time.Second}, logger.Nop(), sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// 不論 worker 進度如何，Publish 都不能阻塞
		for i := 0; i < 10; i++ {
			rec.Publish(finished("g"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}

	close(sink.block)
	rec.Close()

	n := len(sink.ids())
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 2)
}

func TestRecorder_PublishAfterClose(t *testing.T) {
	sink := &fakeSink{}
	rec := store.NewRecorder(store.RecorderConfig{}, logger.Nop(), sink)
	rec.Close()
	rec.Close()

	require.NotPanics(t, func() { rec.Publish(finished("late")) })
	assert.Empty(t, sink.ids())
}
