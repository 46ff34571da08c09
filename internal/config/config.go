package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Board/internal/domain"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const envPrefix = "BOARD"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	Rooms      []string      `mapstructure:"rooms"`
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	DBPath     string        `mapstructure:"db_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// ExplicitRejections answers discarded requests with an error frame.
	ExplicitRejections bool          `mapstructure:"explicit_rejections"`
	RateLimit          int           `mapstructure:"rate_limit"`
	RateInterval       time.Duration `mapstructure:"rate_interval"`
	CORSOrigins        []string      `mapstructure:"cors_origins"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, then BOARD_* environment
// overrides. A missing file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Strs("rooms", cfg.Rooms).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("rooms", lo.Map(domain.DefaultRooms, func(r domain.RoomName, _ int) string { return string(r) }))
	v.SetDefault("secret", "")
	v.SetDefault("token_ttl", "168h")
	v.SetDefault("db_path", "./data/board")
	v.SetDefault("read_limit", 8<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("explicit_rejections", false)
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_interval", "10s")
	v.SetDefault("cors_origins", []string{"*"})
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := c.RoomSet(); err != nil {
		errs = append(errs, err)
	}
	if c.Mode == "release" && c.Secret == "" {
		errs = append(errs, errors.New("secret is required in release mode"))
	}
	if c.Port <= 0 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.PingPeriod <= 0 || c.WriteWait <= 0 {
		errs = append(errs, errors.New("ping_period and write_wait must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RoomSet is the closed set of rooms this process serves.
func (c *Config) RoomSet() (domain.RoomSet, error) {
	names := lo.Map(c.Rooms, func(r string, _ int) domain.RoomName { return domain.RoomName(strings.TrimSpace(r)) })
	return domain.NewRoomSet(names...)
}

func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
