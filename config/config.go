// Package config loads service configuration from defaults, an optional
// config.yaml, an optional .env file and COUPON_* environment variables,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/warp/coupon-engine/coupon"
)

// EnvPrefix prefixes every environment override, e.g. COUPON_SERVER_PORT.
const EnvPrefix = "COUPON"

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Layout     LayoutConfig     `mapstructure:"layout"`
	Generation GenerationConfig `mapstructure:"generation"`
	Bootstrap  BootstrapConfig  `mapstructure:"bootstrap"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

// LayoutConfig mirrors coupon.Layout.
type LayoutConfig struct {
	BoxCount        int    `mapstructure:"box_count" validate:"gt=0"`
	BoxSize         int    `mapstructure:"box_size" validate:"gt=0"`
	BoxesPerBatch   int    `mapstructure:"boxes_per_batch" validate:"gt=0"`
	DigitWidth      int    `mapstructure:"digit_width" validate:"gt=0"`
	NonWinningLabel string `mapstructure:"non_winning_label" validate:"required"`
}

// GenerationConfig selects the arrangement strategy and randomness.
type GenerationConfig struct {
	// Seed 0 means fresh randomness on every run.
	Seed            uint64 `mapstructure:"seed"`
	Strategy        string `mapstructure:"strategy" validate:"oneof=swap interleave"`
	MaxRepairPasses int    `mapstructure:"max_repair_passes" validate:"gt=0"`
	Workers         int    `mapstructure:"workers" validate:"gte=0"`
}

// BootstrapConfig controls first-start seeding.
type BootstrapConfig struct {
	// PoolFile seeds an empty store. Empty means the standard preset.
	PoolFile string `mapstructure:"pool_file"`
}

// Load reads configuration. configFile may be empty, in which case
// config.yaml is looked up in . and ./config.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file is not found, we'll use environment variables
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	l := coupon.DefaultLayout()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "./data/coupons.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("layout.box_count", l.BoxCount)
	v.SetDefault("layout.box_size", l.BoxSize)
	v.SetDefault("layout.boxes_per_batch", l.BoxesPerBatch)
	v.SetDefault("layout.digit_width", l.DigitWidth)
	v.SetDefault("layout.non_winning_label", l.NonWinningLabel)
	v.SetDefault("generation.seed", 0)
	v.SetDefault("generation.strategy", "swap")
	v.SetDefault("generation.max_repair_passes", coupon.DefaultMaxPasses)
	v.SetDefault("generation.workers", 0)
	v.SetDefault("bootstrap.pool_file", "")
}

// Validate checks field constraints and the layout's structural rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.CouponLayout().Validate(); err != nil {
		return fmt.Errorf("invalid layout: %w", err)
	}
	return nil
}

// CouponLayout converts the layout section.
func (c *Config) CouponLayout() coupon.Layout {
	return coupon.Layout{
		BoxCount:        c.Layout.BoxCount,
		BoxSize:         c.Layout.BoxSize,
		BoxesPerBatch:   c.Layout.BoxesPerBatch,
		DigitWidth:      c.Layout.DigitWidth,
		NonWinningLabel: c.Layout.NonWinningLabel,
	}
}

// NewAssembler builds an assembler from the layout and generation sections.
func (c *Config) NewAssembler() *coupon.Assembler {
	a := coupon.NewAssembler(c.CouponLayout())
	switch c.Generation.Strategy {
	case "interleave":
		a.Arranger = coupon.Interleave{}
	default:
		a.Arranger = coupon.SwapRepair{MaxPasses: c.Generation.MaxRepairPasses}
	}
	if c.Generation.Seed != 0 {
		a.Sources = coupon.SeededSources(c.Generation.Seed)
	}
	a.Workers = c.Generation.Workers
	return a
}

// NewLogger builds the service logger writing JSON lines to w, or
// human-readable lines when Pretty is set. A nil w means stderr.
func NewLogger(cfg LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
