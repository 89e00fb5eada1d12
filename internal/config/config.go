// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Flood      FloodConfig      `mapstructure:"flood"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Game       GameConfig       `mapstructure:"game"`
	Forms      FormsConfig      `mapstructure:"forms"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// BotConfig holds Telegram bot and forum configuration.
type BotConfig struct {
	Token        string `mapstructure:"token"`
	ForumChatID  int64  `mapstructure:"forum_chat_id"`
	GamesTopicID int64  `mapstructure:"games_topic_id"`
	LogTopicID   int64  `mapstructure:"log_topic_id"`

	// SummaryTopicID receives the daily activity digest. Zero means the
	// forum's general topic.
	SummaryTopicID int64 `mapstructure:"summary_topic_id"`

	// GateTopicID hosts gate-access requests, NeighborsTopicID hosts the
	// newcomer introduction flow. Zero disables the matching form.
	GateTopicID      int64 `mapstructure:"gate_topic_id"`
	NeighborsTopicID int64 `mapstructure:"neighbors_topic_id"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// FloodConfig holds flood detection thresholds.
type FloodConfig struct {
	Window        time.Duration `mapstructure:"window"`
	WarnThreshold int           `mapstructure:"warn_threshold"`
	Threshold     int           `mapstructure:"threshold"`
}

// ModerationConfig holds strike escalation settings.
type ModerationConfig struct {
	MuteThreshold   int           `mapstructure:"mute_threshold"`
	BanThreshold    int           `mapstructure:"ban_threshold"`
	MuteDuration    time.Duration `mapstructure:"mute_duration"`
	StrikeTTL       time.Duration `mapstructure:"strike_ttl"`
	FloodMute       time.Duration `mapstructure:"flood_mute"`
	FloodMuteRepeat time.Duration `mapstructure:"flood_mute_repeat"`
	WordlistPath    string        `mapstructure:"wordlist_path"`
	AllowedDomains  []string      `mapstructure:"allowed_domains"`
}

// GameConfig holds blackjack table settings.
type GameConfig struct {
	JoinWindow    time.Duration `mapstructure:"join_window"`
	TurnDeadline  time.Duration `mapstructure:"turn_deadline"`
	MinWager      int64         `mapstructure:"min_wager"`
	MaxWager      int64         `mapstructure:"max_wager"`
	InitialCoins  int64         `mapstructure:"initial_coins"`
	DailyGrantCap int64         `mapstructure:"daily_grant_cap"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// FormsConfig holds the questionnaire flow settings.
type FormsConfig struct {
	NeighborTimeout time.Duration `mapstructure:"neighbor_timeout"`
}

// StatsConfig holds topic statistics settings.
type StatsConfig struct {
	FlushInterval       time.Duration `mapstructure:"flush_interval"`
	LeaderboardInterval time.Duration `mapstructure:"leaderboard_interval"`
	SummaryInterval     time.Duration `mapstructure:"summary_interval"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
}

// MetricsConfig holds the metrics/health HTTP listener settings.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. BOT_TOKEN, DATABASE_HOST, FLOOD_THRESHOLD.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Bot.ForumChatID == 0 {
		return nil, fmt.Errorf("bot.forum_chat_id is required")
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "forumbot")
	v.SetDefault("database.name", "forumbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("flood.window", "120s")
	v.SetDefault("flood.warn_threshold", 7)
	v.SetDefault("flood.threshold", 10)

	v.SetDefault("moderation.mute_threshold", 3)
	v.SetDefault("moderation.ban_threshold", 5)
	v.SetDefault("moderation.mute_duration", "24h")
	v.SetDefault("moderation.strike_ttl", "720h") // strikes age out after 30 days
	v.SetDefault("moderation.flood_mute", "15m")
	v.SetDefault("moderation.flood_mute_repeat", "1h")
	v.SetDefault("moderation.wordlist_path", "data/profanity.txt")
	v.SetDefault("moderation.allowed_domains", []string{"t.me"})

	v.SetDefault("game.join_window", "45s")
	v.SetDefault("game.turn_deadline", "90s")
	v.SetDefault("game.min_wager", 1)
	v.SetDefault("game.max_wager", 50)
	v.SetDefault("game.initial_coins", 100)
	v.SetDefault("game.daily_grant_cap", 10)
	v.SetDefault("game.sweep_interval", "5s")

	v.SetDefault("forms.neighbor_timeout", "30m")

	v.SetDefault("stats.flush_interval", "5m")
	v.SetDefault("stats.leaderboard_interval", "168h") // weekly
	v.SetDefault("stats.summary_interval", "24h")
	v.SetDefault("stats.heartbeat_interval", "10m")

	v.SetDefault("metrics.listen_addr", ":9090")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
