package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/protocol"
	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

type handlerFunc func(s *Session, req protocol.Request) error

// Dispatcher 依 command 把訊息交給對應的 handler
//
// 所有錯誤都在這裡轉成 ERR 回應，不會關閉連線。
// 成功時大部分指令的回應由遊戲廣播，只有 CONNECT 與 PING/PONG 直接回覆。
type Dispatcher struct {
	registry *game.Registry
	builder  *protocol.Builder
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

// NewDispatcher 建立 Dispatcher，now 為 nil 時使用 time.Now
func NewDispatcher(registry *game.Registry, now func() time.Time, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		builder:  protocol.NewBuilder(now),
		logger:   logger,
	}
	d.handlers = map[string]handlerFunc{
		protocol.CmdConnect:     d.handleConnect,
		protocol.CmdHost:        d.handleHost,
		protocol.CmdJoin:        d.handleJoin,
		protocol.CmdLobbyUpdate: d.handleLobbyUpdate,
		protocol.CmdGame:        d.handleGame,
		protocol.CmdCapture:     d.handleCapture,
		protocol.CmdCaptured:    d.handleCaptured,
		protocol.CmdEnd:         d.handleEnd,
		protocol.CmdPing:        d.echo(protocol.CmdPong),
		protocol.CmdPong:        d.echo(protocol.CmdPing),
	}
	return d
}

// HandleFrame 處理一則已切好的訊息
func (d *Dispatcher) HandleFrame(s *Session, frame string) {
	req, err := protocol.ParseRequest(frame)
	if err != nil {
		d.fail(s, nil, err)
		return
	}

	cmd := req.Command
	handler, ok := d.handlers[cmd]
	if !ok {
		d.fail(s, &cmd, apperrors.ErrUnknownCommand.WithDetails(fmt.Sprintf("unknown command %q", cmd)))
		return
	}
	if cmd != protocol.CmdConnect && s.UserID() == "" {
		d.fail(s, &cmd, apperrors.ErrAuthRequired)
		return
	}

	if err := handler(s, req); err != nil {
		d.fail(s, &cmd, err)
	}
}

// ReportFrameError 回報讀取層的錯誤（例如訊息過長）
func (d *Dispatcher) ReportFrameError(s *Session, err error) {
	d.fail(s, nil, apperrors.Wrap(err, apperrors.ErrCodeParseError, "frame rejected").WithDetails(err.Error()))
}

// Disconnect 連線中斷時離開目前的遊戲
func (d *Dispatcher) Disconnect(s *Session) {
	g := s.detach()
	if g == nil {
		return
	}
	if userID := s.UserID(); userID != "" {
		g.Leave(userID)
	}
}

func (d *Dispatcher) fail(s *Session, cmd *string, err error) {
	if _, ok := apperrors.As(err); !ok {
		d.logger.ErrorContext(s.Context(), "command failed", "command", deref(cmd), "error", err)
	} else {
		d.logger.DebugContext(s.Context(), "command rejected", "command", deref(cmd), "code", apperrors.CodeOf(err))
	}
	d.deliver(s, d.builder.Error(cmd, err))
}

func (d *Dispatcher) reply(s *Session, cmd string, response any) error {
	line, err := d.builder.OK(cmd, response)
	if err != nil {
		return err
	}
	d.deliver(s, line)
	return nil
}

func (d *Dispatcher) deliver(s *Session, line []byte) {
	if !s.Send(line) {
		d.logger.WarnContext(s.Context(), "reply dropped")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type connectRequest struct {
	UserID string `json:"userId"`
}

type connectResponse struct {
	UserID string `json:"userId"`
}

type joinRequest struct {
	GameID string `json:"gameId"`
}

type captureRequest struct {
	BeaconID string `json:"beaconId"`
}

func (d *Dispatcher) handleConnect(s *Session, req protocol.Request) error {
	var body connectRequest
	if err := req.Bind(&body); err != nil {
		return err
	}
	if s.UserID() != "" {
		return apperrors.ErrAlreadyConnected
	}
	if body.UserID == "" {
		return apperrors.ErrNoUserID
	}
	if !s.authenticate(body.UserID) {
		return apperrors.ErrAlreadyConnected
	}

	d.logger.InfoContext(s.Context(), "session authenticated")
	return d.reply(s, protocol.CmdConnect, connectResponse{UserID: body.UserID})
}

func (d *Dispatcher) handleHost(s *Session, _ protocol.Request) error {
	if s.currentGame() != nil {
		return apperrors.ErrAlreadyHosting
	}
	g, err := d.registry.Create(s.UserID(), s)
	if err != nil {
		return err
	}
	s.setGame(g)
	return nil
}

func (d *Dispatcher) handleJoin(s *Session, req protocol.Request) error {
	var body joinRequest
	if err := req.Bind(&body); err != nil {
		return err
	}
	if s.currentGame() != nil {
		return apperrors.ErrAlreadyHosting
	}
	g, err := d.registry.Join(body.GameID, s.UserID(), s)
	if err != nil {
		return err
	}
	s.setGame(g)
	return nil
}

func (d *Dispatcher) handleLobbyUpdate(s *Session, req protocol.Request) error {
	var body game.LobbyUpdate
	if err := req.Bind(&body); err != nil {
		return err
	}
	g, err := d.sessionGame(s)
	if err != nil {
		return err
	}
	return g.Update(s.UserID(), body)
}

func (d *Dispatcher) handleGame(s *Session, _ protocol.Request) error {
	g, err := d.sessionGame(s)
	if err != nil {
		return err
	}
	return g.Start(s.UserID())
}

func (d *Dispatcher) handleCapture(s *Session, req protocol.Request) error {
	var body captureRequest
	if err := req.Bind(&body); err != nil {
		return err
	}
	g, err := d.sessionGame(s)
	if err != nil {
		return err
	}
	return g.Capture(s.UserID(), body.BeaconID)
}

func (d *Dispatcher) handleCaptured(s *Session, _ protocol.Request) error {
	g, err := d.sessionGame(s)
	if err != nil {
		return err
	}
	g.Sync()
	return nil
}

func (d *Dispatcher) handleEnd(s *Session, _ protocol.Request) error {
	g, err := d.sessionGame(s)
	if err != nil {
		return err
	}
	return g.End(s.UserID())
}

func (d *Dispatcher) echo(command string) handlerFunc {
	return func(s *Session, _ protocol.Request) error {
		return d.reply(s, command, nil)
	}
}

func (d *Dispatcher) sessionGame(s *Session) (*game.Game, error) {
	g := s.currentGame()
	if g == nil {
		return nil, apperrors.ErrGameNotFound.WithDetails("you are not in a game")
	}
	return g, nil
}
