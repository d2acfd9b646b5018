package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
)

// TCPConfig TCP 伺服器設定
type TCPConfig struct {
	Addr          string
	ReadTimeout   time.Duration // 閒置多久斷線，0 表示不限
	WriteTimeout  time.Duration
	MaxFrameBytes int
	SendBuffer    int
}

// TCPServer 以換行分隔 JSON 溝通的 TCP 伺服器
//
// 每條連線兩個 goroutine：讀取端切訊息並交給 Dispatcher，
// 寫入端消化 Session 的佇列。
type TCPServer struct {
	cfg        TCPConfig
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    sessionSet
}

// NewTCPServer 建立 TCP 伺服器
func NewTCPServer(cfg TCPConfig, dispatcher *Dispatcher, logger *slog.Logger) *TCPServer {
	return &TCPServer{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Listen 綁定位址，位址被佔用時回傳錯誤
func (s *TCPServer) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("tcp server listening", "addr", ln.Addr().String())
	return nil
}

// Addr 實際綁定的位址，尚未 Listen 時為 nil
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve 接受連線直到 Shutdown，正常關閉時回傳 nil
func (s *TCPServer) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("tcp server: Serve called before Listen")
	}

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// 例如檔案描述符用盡，稍等再試
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		sess := NewSession(s.cfg.SendBuffer)
		if !s.conns.add(sess) {
			conn.Close()
			return nil
		}
		go s.handle(conn, sess)
	}
}

// Shutdown 停止接受連線，關閉現有連線並等待結束
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("close listener", "error", err)
		}
	}

	err := s.conns.shutdown(ctx)
	s.logger.Info("tcp server stopped")
	return err
}

// Connections 目前的連線數
func (s *TCPServer) Connections() int {
	return s.conns.len()
}

func (s *TCPServer) handle(conn net.Conn, sess *Session) {
	defer s.conns.remove(sess)

	s.logger.DebugContext(sess.Context(), "connection opened", "remote", conn.RemoteAddr().String())

	written := make(chan struct{})
	go func() {
		defer close(written)
		pump(sess, func(line []byte) error {
			if s.cfg.WriteTimeout > 0 {
				if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
					return err
				}
			}
			_, err := conn.Write(line)
			return err
		}, func() { conn.Close() }, nil, nil)
	}()

	s.readLoop(conn, sess)

	s.dispatcher.Disconnect(sess)
	sess.Close()
	<-written

	s.logger.DebugContext(sess.Context(), "connection closed")
}

func (s *TCPServer) readLoop(conn net.Conn, sess *Session) {
	framer := protocol.NewFramer(s.cfg.MaxFrameBytes)
	buf := make([]byte, 4096)

	for {
		if s.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				return
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			for frame, ferr := range framer.Feed(buf[:n]) {
				if ferr != nil {
					s.dispatcher.ReportFrameError(sess, ferr)
					continue
				}
				s.dispatcher.HandleFrame(sess, frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.DebugContext(sess.Context(), "read failed", "error", err)
			}
			return
		}
	}
}
