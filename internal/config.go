package internal

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size"`
		CacheTTL time.Duration `yaml:"cache_ttl"` // 排行榜分頁快取時間
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
		Enabled       bool   `yaml:"enabled"`
	} `yaml:"nats"`

	Game struct {
		MaxScoreDelta int           `yaml:"max_score_delta"` // 反作弊：單次分數增量上限
		QueueCapacity int           `yaml:"queue_capacity"`
		SendBuffer    int           `yaml:"send_buffer"`
		PongWait      time.Duration `yaml:"pong_wait"`
		PingPeriod    time.Duration `yaml:"ping_period"`
		WriteWait     time.Duration `yaml:"write_wait"`
		MaxMessage    int64         `yaml:"max_message_bytes"`
		SaveTimeout   time.Duration `yaml:"save_timeout"`
	} `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "postgres"
	cfg.Postgres.Password = "postgres"
	cfg.Postgres.DBName = "duel_arena"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.CacheTTL = 10 * time.Second

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.SubjectPrefix = "duel"
	cfg.NATS.Enabled = true

	cfg.Game.MaxScoreDelta = 50
	cfg.Game.QueueCapacity = 100
	cfg.Game.SendBuffer = 256
	cfg.Game.PongWait = 60 * time.Second
	cfg.Game.PingPeriod = 54 * time.Second
	cfg.Game.WriteWait = 10 * time.Second
	cfg.Game.MaxMessage = 4096
	cfg.Game.SaveTimeout = 5 * time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"

	return cfg
}

// LoadConfig 讀取 YAML 配置檔，未設定的欄位保留預設值
//
// path 為空時只套用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// 環境變數覆蓋（部署環境常用）
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Game.MaxScoreDelta <= 0 {
		return fmt.Errorf("max_score_delta must be positive")
	}
	if c.Game.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}
	if c.Game.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	if c.Game.PingPeriod >= c.Game.PongWait {
		return fmt.Errorf("ping_period must be shorter than pong_wait")
	}
	return nil
}

// PostgresURL 生成 PostgreSQL 連線 URL（pgx 與 golang-migrate 共用）
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// RedisURL 判斷 Addr 是否為 redis:// URL
func (c *Config) RedisURL() (string, bool) {
	u, err := url.Parse(c.Redis.Addr)
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		return "", false
	}
	return c.Redis.Addr, true
}
