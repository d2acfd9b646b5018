package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

// 指令
const (
	CmdConnect     = "CONNECT"
	CmdHost        = "HOST"
	CmdJoin        = "JOIN"
	CmdLobbyUpdate = "LOBBY_UPDATE"
	CmdGame        = "GAME"
	CmdCapture     = "CAPTURE"
	CmdCaptured    = "CAPTURED"
	CmdEnd         = "END"
	CmdPing        = "PING"
	CmdPong        = "PONG"
	CmdSync        = "SYNC" // 只由伺服器送出
)

// 回應狀態
const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

// Request 客戶端送來的訊息
type Request struct {
	Command string          `json:"command"`
	Request json.RawMessage `json:"request,omitempty"`
}

// ParseRequest 解析一則訊息
func ParseRequest(frame string) (Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(frame), &req); err != nil {
		return Request{}, apperrors.Wrap(err, apperrors.ErrCodeParseError, "malformed message")
	}
	if req.Command == "" {
		return Request{}, apperrors.ErrParse.WithDetails("message has no command")
	}
	return req, nil
}

// Bind 將 request 內容解到 v；沒有 request 時 v 保持零值
func (r Request) Bind(v any) error {
	raw := bytes.TrimSpace(r.Request)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeParseError, "malformed request").
			WithDetails(fmt.Sprintf("invalid %s request: %v", r.Command, err))
	}
	return nil
}

// Envelope 伺服器送出的訊息
//
// 錯誤回應的 command 可能是 null（無法解析的訊息）。
type Envelope struct {
	Status      string          `json:"status"`
	Command     *string         `json:"command"`
	Description string          `json:"description,omitempty"`
	Code        string          `json:"code,omitempty"`
	Date        int64           `json:"date"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// Builder 序列化回應，時鐘可替換方便測試
type Builder struct {
	now func() time.Time
}

// NewBuilder 建立 Builder，now 為 nil 時使用 time.Now
func NewBuilder(now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now}
}

// OK 產生成功回應，結尾含分隔符號
func (b *Builder) OK(command string, response any) ([]byte, error) {
	body := json.RawMessage("{}")
	if response != nil {
		raw, err := json.Marshal(response)
		if err != nil {
			return nil, fmt.Errorf("marshal %s response: %w", command, err)
		}
		body = raw
	}
	cmd := command
	return encode(Envelope{
		Status:   StatusOK,
		Command:  &cmd,
		Date:     b.now().UnixMilli(),
		Response: body,
	})
}

// Error 產生錯誤回應，command 為 nil 代表無法辨識的訊息
func (b *Builder) Error(command *string, err error) []byte {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.ErrInternal
	}
	line, _ := encode(Envelope{
		Status:      StatusErr,
		Command:     command,
		Description: appErr.Description(),
		Code:        appErr.Code,
		Date:        b.now().UnixMilli(),
	})
	return line
}

func encode(env Envelope) ([]byte, error) {
	line, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(line, Delimiter), nil
}

// DecodeEnvelope 解析伺服器送出的訊息，客戶端與測試使用
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(bytes.TrimSpace(line), &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Cmd 取 command 字串，null 時回傳空字串
func (e Envelope) Cmd() string {
	if e.Command == nil {
		return ""
	}
	return *e.Command
}
