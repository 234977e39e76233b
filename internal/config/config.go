package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

type (
	AppCfg struct {
		Name string `mapstructure:"name"`
		Env  string `mapstructure:"env"`
	}
	ServerCfg struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	}
	StoreCfg struct {
		Driver   string `mapstructure:"driver"`
		Strategy string `mapstructure:"strategy"`
	}
	PostgresCfg struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		Database     string `mapstructure:"database"`
		SSLMode      string `mapstructure:"sslmode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		// URL overrides the individual connection fields when set
		URL     string `mapstructure:"url"`
		Migrate bool   `mapstructure:"migrate"`
	}
	SQLiteCfg struct {
		Path string `mapstructure:"path"`
	}
	RedisCfg struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}
	TelegramCfg struct {
		Token         string        `mapstructure:"token"`
		PollTimeout   time.Duration `mapstructure:"poll_timeout"`
		MaxConcurrent int64         `mapstructure:"max_concurrent"`
		Debug         bool          `mapstructure:"debug"`
	}
	RetrievalCfg struct {
		Timeout      time.Duration `mapstructure:"timeout"`
		Interval     time.Duration `mapstructure:"interval"`
		QueryTimeout time.Duration `mapstructure:"query_timeout"`
		ScopeByOwner bool          `mapstructure:"scope_by_owner"`
	}
	Config struct {
		App       AppCfg       `mapstructure:"app"`
		Server    ServerCfg    `mapstructure:"server"`
		Store     StoreCfg     `mapstructure:"store"`
		Postgres  PostgresCfg  `mapstructure:"postgres"`
		SQLite    SQLiteCfg    `mapstructure:"sqlite"`
		Redis     RedisCfg     `mapstructure:"redis"`
		Telegram  TelegramCfg  `mapstructure:"telegram"`
		Retrieval RetrievalCfg `mapstructure:"retrieval"`
	}
)

// ConnString returns the postgres URL, built from the individual fields unless URL is set
func (p PostgresCfg) ConnString() string {
	if p.URL != "" {
		return p.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": []string{p.SSLMode}}.Encode(),
	}
	return u.String()
}

// Load reads config.yaml (or APP_CONFIG_PATH) and APP_* env vars into a Config
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom is Load on a caller-provided viper instance, e.g. one with bound flags
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if p := os.Getenv("APP_CONFIG_PATH"); p != "" {
		v.SetConfigFile(p)
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// continue with env/defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// every key needs a default for AutomaticEnv to reach it through Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tbot")
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.strategy", "pooled")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "tbot")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.migrate", true)
	v.SetDefault("sqlite.path", "tbot.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", "60s")
	v.SetDefault("telegram.max_concurrent", 64)
	v.SetDefault("telegram.debug", false)
	v.SetDefault("retrieval.timeout", "15s")
	v.SetDefault("retrieval.interval", "1s")
	v.SetDefault("retrieval.query_timeout", "5s")
	v.SetDefault("retrieval.scope_by_owner", false)
}

// Validate checks the settings that cannot be defaulted away
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Retrieval.Timeout <= 0 || c.Retrieval.Interval <= 0 {
		return errors.New("retrieval.timeout and retrieval.interval must be positive")
	}
	// a synchronous retrieval over HTTP must fit in one response
	if c.Server.WriteTimeout <= c.Retrieval.Timeout {
		return fmt.Errorf("server.write_timeout (%s) must exceed retrieval.timeout (%s)", c.Server.WriteTimeout, c.Retrieval.Timeout)
	}
	return nil
}
