// Package migrations 管理回合紀錄的資料庫結構
//
// SQL 檔以 embed 打包進執行檔，部署時不需要額外帶 migrations 目錄。
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// ErrDirty 上一次遷移中途失敗，需要人工確認後再 force
var ErrDirty = errors.New("schema is dirty")

// State 目前的 schema 版本
type State struct {
	Version uint
	Dirty   bool
}

// Migrator 包裝 golang-migrate
type Migrator struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// New 建立 Migrator，dsn 為 postgres:// 格式
func New(dsn string, logger *slog.Logger) (*Migrator, error) {
	src, err := iofs.New(schemaFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded schema: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("open migration target: %w", err)
	}
	return &Migrator{m: m, logger: logger}, nil
}

// Apply 一次性升到最新版並關閉連線，伺服器啟動時使用
func Apply(dsn string, logger *slog.Logger) error {
	mg, err := New(dsn, logger)
	if err != nil {
		return err
	}
	upErr := mg.Up()
	return errors.Join(upErr, mg.Close())
}

// Current 目前版本，尚未遷移過時 Version 為 0
func (mg *Migrator) Current() (State, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read schema version: %w", err)
	}
	return State{Version: v, Dirty: dirty}, nil
}

// Up 升到最新版，dirty 狀態直接回報錯誤不自動修復
func (mg *Migrator) Up() error {
	before, err := mg.Current()
	if err != nil {
		return err
	}
	if before.Dirty {
		return fmt.Errorf("version %d: %w", before.Version, ErrDirty)
	}

	err = mg.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.logger.Info("資料庫結構已是最新", "version", before.Version)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	after, _ := mg.Current()
	mg.logger.Info("資料庫結構已更新", "from", before.Version, "to", after.Version)
	return nil
}

// Down 退回一個版本，測試清理用
func (mg *Migrator) Down() error {
	if err := mg.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Close 關閉來源與資料庫連線
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
