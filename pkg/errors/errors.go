// Package errors 提供協定層級的應用程式錯誤
//
// 每個錯誤碼都對應一個 ERR 回應，由 dispatcher 轉成 envelope 回給發起的連線，
// 不會中斷連線。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeAuthRequired 尚未 CONNECT
	ErrCodeAuthRequired = "AUTH_REQUIRED"
	// ErrCodeAlreadyConnected 重複 CONNECT
	ErrCodeAlreadyConnected = "ALREADY_CONNECTED"
	// ErrCodeNoUserID CONNECT 缺少 userId
	ErrCodeNoUserID = "NO_USER_ID"
	// ErrCodeAlreadyHosting 已經在其他遊戲中
	ErrCodeAlreadyHosting = "ALREADY_HOSTING"
	// ErrCodeGameNotFound 遊戲不存在
	ErrCodeGameNotFound = "GAME_NOT_FOUND"
	// ErrCodeGameFull 遊戲人數已滿
	ErrCodeGameFull = "GAME_FULL"
	// ErrCodeWrongRoundState 目前回合狀態不允許此操作
	ErrCodeWrongRoundState = "WRONG_ROUND_STATE"
	// ErrCodeNotHost 只有房主可以執行
	ErrCodeNotHost = "NOT_HOST"
	// ErrCodePlayersNotReady 有玩家尚未準備
	ErrCodePlayersNotReady = "PLAYERS_NOT_READY"
	// ErrCodeParseError 無法解析的訊息
	ErrCodeParseError = "PARSE_ERROR"
	// ErrCodeUnknownCommand 未知指令
	ErrCodeUnknownCommand = "UNKNOWN_COMMAND"
	// ErrCodeNotParticipant 不是此遊戲的玩家
	ErrCodeNotParticipant = "NOT_PARTICIPANT"
	// ErrCodeInvalidSettings 設定值無效
	ErrCodeInvalidSettings = "INVALID_SETTINGS"
	// ErrCodeShuttingDown 伺服器關閉中
	ErrCodeShuttingDown = "SERVER_SHUTTING_DOWN"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 比較錯誤碼，讓 errors.Is 能對預定義錯誤做判斷
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Description 回給客戶端的描述文字
func (e *AppError) Description() string {
	if e.Details != "" {
		return e.Details
	}
	return e.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶有詳細資訊的副本
//
// 預定義錯誤是共用的，不能直接修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrAuthRequired     = New(ErrCodeAuthRequired, "you have to CONNECT first")
	ErrAlreadyConnected = New(ErrCodeAlreadyConnected, "this connection is already authenticated")
	ErrNoUserID         = New(ErrCodeNoUserID, "userId is required")
	ErrAlreadyHosting   = New(ErrCodeAlreadyHosting, "you are already in a game")
	ErrGameNotFound     = New(ErrCodeGameNotFound, "game not found")
	ErrGameFull         = New(ErrCodeGameFull, "game is full")
	ErrWrongRoundState  = New(ErrCodeWrongRoundState, "action is not allowed in the current round state")
	ErrNotHost          = New(ErrCodeNotHost, "only the host can do that")
	ErrPlayersNotReady  = New(ErrCodePlayersNotReady, "players aren't ready yet")
	ErrParse            = New(ErrCodeParseError, "malformed message")
	ErrUnknownCommand   = New(ErrCodeUnknownCommand, "unknown command")
	ErrNotParticipant   = New(ErrCodeNotParticipant, "you are not a player of this game")
	ErrInvalidSettings  = New(ErrCodeInvalidSettings, "invalid settings")
	ErrShuttingDown     = New(ErrCodeShuttingDown, "server is shutting down")
	ErrInternal         = New(ErrCodeInternal, "internal server error")
)

// CodeOf 取出錯誤碼，非 AppError 一律視為內部錯誤
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// As 是 errors.As 的簡寫
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// IsNotFound 檢查是否為遊戲不存在錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeGameNotFound
}
