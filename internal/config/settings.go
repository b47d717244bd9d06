package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"pass"`
}

// StreamConfig carries the timing/limit knobs of the streaming core.
// Zero values fall back to the defaults below so a sparse yaml still works.
type StreamConfig struct {
	MaxStreamsPerActor  int   `mapstructure:"max_streams_per_actor"`
	HeartbeatIntervalMS int64 `mapstructure:"heartbeat_interval_ms"`
	InitialGraceMS      int64 `mapstructure:"initial_grace_ms"`
	MaxIdleMS           int64 `mapstructure:"max_idle_ms"`
	ReasoningIdleMS     int64 `mapstructure:"reasoning_idle_ms"`
	KeepaliveIdleMS     int64 `mapstructure:"keepalive_idle_ms"`
	KeepaliveSpacingMS  int64 `mapstructure:"keepalive_spacing_ms"`
	PersistIntervalMS   int64 `mapstructure:"persist_interval_ms"`
	PersistMinDelta     int   `mapstructure:"persist_min_delta"`
	RequestTimeoutMS    int64 `mapstructure:"request_timeout_ms"`
	ProfileDebounceMS   int64 `mapstructure:"profile_debounce_ms"`
	ProfileCapacity     int   `mapstructure:"profile_capacity"`
	ReplyHistoryLimit   int   `mapstructure:"reply_history_limit"`
	SaveReasoning       bool  `mapstructure:"save_reasoning"`
}

func (s StreamConfig) HeartbeatInterval() time.Duration { return msOr(s.HeartbeatIntervalMS, 5000) }
func (s StreamConfig) InitialGrace() time.Duration      { return msOr(s.InitialGraceMS, 30000) }
func (s StreamConfig) MaxIdle() time.Duration           { return msOr(s.MaxIdleMS, 120000) }
func (s StreamConfig) ReasoningIdle() time.Duration     { return msOr(s.ReasoningIdleMS, 15000) }
func (s StreamConfig) KeepaliveIdle() time.Duration     { return msOr(s.KeepaliveIdleMS, 10000) }
func (s StreamConfig) KeepaliveSpacing() time.Duration  { return msOr(s.KeepaliveSpacingMS, 5000) }
func (s StreamConfig) PersistInterval() time.Duration   { return msOr(s.PersistIntervalMS, 1500) }
func (s StreamConfig) RequestTimeout() time.Duration    { return msOr(s.RequestTimeoutMS, 600000) }
func (s StreamConfig) ProfileDebounce() time.Duration   { return msOr(s.ProfileDebounceMS, 800) }

func (s StreamConfig) MinPersistDelta() int {
	if s.PersistMinDelta <= 0 {
		return 8
	}
	return s.PersistMinDelta
}

func (s StreamConfig) MaxPerActor() int {
	if s.MaxStreamsPerActor <= 0 {
		return 3
	}
	return s.MaxStreamsPerActor
}

func (s StreamConfig) ProfileCap() int {
	if s.ProfileCapacity <= 0 {
		return 256
	}
	return s.ProfileCapacity
}

func (s StreamConfig) HistoryLimit() int {
	if s.ReplyHistoryLimit <= 0 {
		return 10
	}
	return s.ReplyHistoryLimit
}

func msOr(ms int64, def int64) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	TokenTTLHr int    `mapstructure:"token_ttl_hr"`
}

func (a AuthConfig) TokenTTL() time.Duration {
	if a.TokenTTLHr <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.TokenTTLHr) * time.Hour
}

// ProviderConfig describes one upstream connection.
type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// ResponsesOnly pins the structured protocol; Pinned pins chat.
	ResponsesOnly bool `mapstructure:"responses_only"`
	Pinned        bool `mapstructure:"pinned"`
}

type Settings struct {
	DB        DBConfig         `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Stream    StreamConfig     `mapstructure:"stream"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Port      int              `mapstructure:"port"`
	Env       string           `mapstructure:"env"`
	Debug     bool             `mapstructure:"debug" default:"false"`
}

func (s *Settings) Addr() string {
	port := s.Port
	if port <= 0 {
		port = 8090
	}
	return fmt.Sprintf(":%d", port)
}

func Load() (*Settings, error) {
	// Load settings from a configuration file or environment variables
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
