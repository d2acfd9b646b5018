// Package logger 提供結構化日誌功能
//
// 呼叫端一律使用 *slog.Logger；json 與 console 格式由 zap 負責輸出，
// text 格式使用標準 slog handler。
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// SessionIDKey 連線 session ID 的上下文鍵
	SessionIDKey contextKey = "session_id"
	// UserIDKey 用戶 ID 的上下文鍵
	UserIDKey contextKey = "user_id"
)

// Options 日誌設定
type Options struct {
	Level     string
	Format    string // text, json, console
	Output    string // stdout, stderr 或檔案路徑
	AddSource bool
}

// New 建立日誌記錄器
//
// 回傳的 closer 會 flush zap 的緩衝並關閉輸出檔案。
func New(opts Options) (*slog.Logger, func() error, error) {
	level := ParseLevel(opts.Level)

	out, closeOut, err := openOutput(opts.Output)
	if err != nil {
		return nil, nil, err
	}

	var (
		handler slog.Handler
		sync    = func() error { return nil }
	)

	switch strings.ToLower(opts.Format) {
	case "json", "console":
		core := newZapCore(opts.Format, out, level)
		handler = zapslog.NewHandler(core,
			zapslog.WithCaller(opts.AddSource),
			zapslog.AddStacktraceAt(slog.LevelError),
		)
		sync = core.Sync
	default:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{
			Level:     level,
			AddSource: opts.AddSource,
		})
	}

	closer := func() error {
		_ = sync()
		return closeOut()
	}
	return slog.New(&contextHandler{Handler: handler}), closer, nil
}

// Nop 丟棄所有輸出，測試用
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newZapCore(format string, out io.Writer, level slog.Level) zapcore.Core {
	var encoder zapcore.Encoder
	if strings.ToLower(format) == "console" {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(out), toZapLevel(level))
}

func toZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level <= slog.LevelDebug:
		return zapcore.DebugLevel
	case level <= slog.LevelInfo:
		return zapcore.InfoLevel
	case level <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func openOutput(path string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch path {
	case "", "stdout":
		return os.Stdout, nop, nil
	case "stderr":
		return os.Stderr, nop, nil
	}
	// #nosec G304 - 路徑來自設定檔
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取 session 資訊
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		r.AddAttrs(slog.String("session_id", sessionID))
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		r.AddAttrs(slog.String("user_id", userID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithSessionID 添加 session ID 到上下文
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithUserID 添加用戶 ID 到上下文
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
