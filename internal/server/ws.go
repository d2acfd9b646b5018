package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSGateway 讓瀏覽器客戶端透過 WebSocket 使用同一套指令
//
// 每則 text message 視為一段串流資料交給 Framer，
// 伺服器送出的每則訊息對應一個 text message（不含分隔符號）。
type WSGateway struct {
	dispatcher   *Dispatcher
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	maxFrame     int
	sendBuffer   int
	conns        sessionSet
}

// NewWSGateway 建立 WebSocket 閘道，沿用 TCP 的訊息長度與緩衝設定
func NewWSGateway(cfg TCPConfig, dispatcher *Dispatcher, logger *slog.Logger) *WSGateway {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSGateway{
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout: writeTimeout,
		maxFrame:     cfg.MaxFrameBytes,
		sendBuffer:   cfg.SendBuffer,
	}
}

// ServeHTTP 升級連線並處理到斷線為止
func (gw *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess := NewSession(gw.sendBuffer)
	if !gw.conns.add(sess) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer gw.conns.remove(sess)

	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	if gw.maxFrame > 0 {
		conn.SetReadLimit(int64(gw.maxFrame) + 1)
	}

	gw.logger.DebugContext(sess.Context(), "websocket opened", "remote", r.RemoteAddr)

	written := make(chan struct{})
	go func() {
		defer close(written)
		gw.writeLoop(conn, sess)
	}()

	gw.readLoop(conn, sess)

	gw.dispatcher.Disconnect(sess)
	sess.Close()
	<-written

	gw.logger.DebugContext(sess.Context(), "websocket closed")
}

// Shutdown 關閉所有 WebSocket 連線
func (gw *WSGateway) Shutdown(ctx context.Context) error {
	return gw.conns.shutdown(ctx)
}

func (gw *WSGateway) readLoop(conn *websocket.Conn, sess *Session) {
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	framer := protocol.NewFramer(gw.maxFrame)
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				gw.logger.DebugContext(sess.Context(), "websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		message = append(message, protocol.Delimiter)
		for frame, ferr := range framer.Feed(message) {
			if ferr != nil {
				gw.dispatcher.ReportFrameError(sess, ferr)
				continue
			}
			gw.dispatcher.HandleFrame(sess, frame)
		}
	}
}

func (gw *WSGateway) writeLoop(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(messageType int, data []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(gw.writeTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(messageType, data)
	}

	pump(sess,
		func(line []byte) error {
			return write(websocket.TextMessage, bytes.TrimRight(line, "\n"))
		},
		func() {
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		},
		ticker.C,
		func() error { return write(websocket.PingMessage, nil) },
	)
}
