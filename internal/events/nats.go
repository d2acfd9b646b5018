// Package events 將遊戲生命週期事件發布到 NATS
//
// 使用 core NATS（非 JetStream）：事件只供即時觀察與下游統計，
// 丟失不影響遊戲正確性，回合結果另由 store 持久化。
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
)

// Conn 發布所需的最小介面，*nats.Conn 滿足此介面
type Conn interface {
	Publish(subject string, data []byte) error
}

// Connect 連線到 NATS，斷線時無限重連
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("beacon-arena"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

// Publisher 實現 game.EventSink
//
// subject 為 {prefix}.{event type}，例如 arena.round.finished。
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher 建立發布者
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject 事件對應的 subject
func (p *Publisher) Subject(t game.EventType) string {
	return p.prefix + "." + string(t)
}

// Publish 發布事件，失敗只記錄日誌
func (p *Publisher) Publish(e game.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal event failed", "type", e.Type, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(e.Type), data); err != nil {
		p.logger.Warn("publish event failed", "type", e.Type, "game_id", e.GameID, "error", err)
	}
}
