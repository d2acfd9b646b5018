// Package config 載入伺服器設定
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Addr          string        `yaml:"addr"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`  // 連線閒置多久後斷線，0 表示不限制
		WriteTimeout  time.Duration `yaml:"write_timeout"` // 單次寫入期限
		MaxFrameBytes int           `yaml:"max_frame_bytes"`
		SendBuffer    int           `yaml:"send_buffer"` // 每條連線的待送訊息數
	} `yaml:"server"`

	Admin struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"admin"`

	Game struct {
		CaptureTime       int `yaml:"capture_time"`        // 秒
		AfterCaptureDelay int `yaml:"after_capture_delay"` // 秒
		GameTime          int `yaml:"game_time"`           // 分鐘
		VictoryPoints     int `yaml:"victory_points"`
		PointsPerTick     int `yaml:"points_per_tick"`
		TickPeriod        int `yaml:"tick_period"`
		MaxPlayers        int `yaml:"max_players"`

		MaxRoundMinutes int           `yaml:"max_round_minutes"`
		LobbyTTL        time.Duration `yaml:"lobby_ttl"`
		ReapSchedule    string        `yaml:"reap_schedule"` // cron 表達式
		Beacons         []string      `yaml:"beacons"`       // 預設 beacon ID
	} `yaml:"game"`

	Redis struct {
		Enabled    bool          `yaml:"enabled"`
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		PoolSize   int           `yaml:"pool_size"`
		KeyPrefix  string        `yaml:"key_prefix"`
		SummaryTTL time.Duration `yaml:"summary_ttl"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		AddSource bool   `yaml:"add_source"`
	} `yaml:"log"`
}

// Default 回傳完整的預設配置
func Default() *Config {
	c := &Config{}

	c.Server.Addr = "localhost:8069"
	c.Server.ReadTimeout = 0
	c.Server.WriteTimeout = 5 * time.Second
	c.Server.MaxFrameBytes = 64 * 1024
	c.Server.SendBuffer = 256

	c.Admin.Enabled = true
	c.Admin.Addr = "localhost:8070"

	c.Game.CaptureTime = 5
	c.Game.AfterCaptureDelay = 10
	c.Game.GameTime = 10
	c.Game.VictoryPoints = 10000
	c.Game.PointsPerTick = 10
	c.Game.TickPeriod = 10
	c.Game.MaxPlayers = 2
	c.Game.MaxRoundMinutes = 20
	c.Game.LobbyTTL = 30 * time.Minute
	c.Game.ReapSchedule = "@every 1m"
	c.Game.Beacons = []string{"beacon-1", "beacon-2", "beacon-3"}

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Redis.KeyPrefix = "arena"
	c.Redis.SummaryTTL = 24 * time.Hour

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "arena"
	c.Postgres.Password = "arena"
	c.Postgres.DBName = "arena"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 1

	c.NATS.URL = "nats://localhost:4222"
	c.NATS.SubjectPrefix = "arena"

	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.Output = "stdout"

	return c
}

// Load 讀取 YAML 檔並覆蓋在預設值之上
//
// 檔案不存在時回傳預設值，之後再套用環境變數。
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - 路徑來自命令列參數
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// ApplyEnv 套用環境變數覆蓋
//
// VCAP_APP_HOST / VCAP_APP_PORT 沿用 Cloud Foundry 的慣例。
func (c *Config) ApplyEnv(getenv func(string) string) error {
	host, port, err := net.SplitHostPort(c.Server.Addr)
	if err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	if v := getenv("VCAP_APP_HOST"); v != "" {
		host = v
	}
	if v := getenv("VCAP_APP_PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("VCAP_APP_PORT: %w", err)
		}
		port = v
	}
	c.Server.Addr = net.JoinHostPort(host, port)
	return nil
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	var errs []error
	if c.Server.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("server.max_frame_bytes must be positive"))
	}
	if c.Server.SendBuffer <= 0 {
		errs = append(errs, errors.New("server.send_buffer must be positive"))
	}
	if c.Game.CaptureTime <= 0 {
		errs = append(errs, errors.New("game.capture_time must be positive"))
	}
	if c.Game.GameTime <= 0 {
		errs = append(errs, errors.New("game.game_time must be positive"))
	}
	if c.Game.MaxPlayers < 1 {
		errs = append(errs, errors.New("game.max_players must be at least 1"))
	}
	if c.Game.MaxRoundMinutes <= 0 {
		errs = append(errs, errors.New("game.max_round_minutes must be positive"))
	}
	if c.Game.VictoryPoints <= 0 {
		errs = append(errs, errors.New("game.victory_points must be positive"))
	}
	if c.Game.PointsPerTick < 0 {
		errs = append(errs, errors.New("game.points_per_tick must not be negative"))
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		errs = append(errs, errors.New("admin.addr is required when admin is enabled"))
	}
	if c.NATS.Enabled && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required"))
	}
	return errors.Join(errs...)
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}
