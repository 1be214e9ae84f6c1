// Package config loads runtime settings from flags, WORDPARTY_* environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable bound to a flag.
const EnvPrefix = "WORDPARTY"

const (
	DirectoryBus = "bus"
	DirectoryKV  = "kv"
)

// Config holds every setting the binary uses.
type Config struct {
	NATSURL string
	Name    string
	Room    string

	TotalRounds int
	RoundTime   time.Duration
	VoteTime    time.Duration
	MaxPlayers  int

	HeartbeatInterval time.Duration
	PresenceTimeout   time.Duration

	AdvertiseInterval time.Duration
	DirectoryTTL      time.Duration
	DirectoryBackend  string

	CategoriesFile string
	ProfilePath    string
	ProfileDSN     string

	GatewayAddr string
	PublicURL   string

	LogLevel string
	Verbose  bool
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		NATSURL:           nats.DefaultURL,
		TotalRounds:       3,
		RoundTime:         90 * time.Second,
		VoteTime:          30 * time.Second,
		MaxPlayers:        8,
		HeartbeatInterval: 2 * time.Second,
		PresenceTimeout:   6 * time.Second,
		AdvertiseInterval: 5 * time.Second,
		DirectoryTTL:      15 * time.Second,
		DirectoryBackend:  DirectoryBus,
		GatewayAddr:       ":8090",
		PublicURL:         "http://localhost:8090",
		LogLevel:          "info",
	}
}

// Validate rejects settings the game cannot run with.
func (c *Config) Validate() error {
	if c.TotalRounds < 1 {
		return fmt.Errorf("invalid rounds (must be at least 1): %d", c.TotalRounds)
	}
	if c.MaxPlayers < 2 {
		return fmt.Errorf("invalid max players (must be at least 2): %d", c.MaxPlayers)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"round-time", c.RoundTime},
		{"vote-time", c.VoteTime},
		{"heartbeat-interval", c.HeartbeatInterval},
		{"presence-timeout", c.PresenceTimeout},
		{"advertise-interval", c.AdvertiseInterval},
		{"directory-ttl", c.DirectoryTTL},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("invalid --%s (must be positive): %s", d.name, d.d)
		}
	}
	if c.PresenceTimeout <= c.HeartbeatInterval {
		return errors.New("--presence-timeout must be longer than --heartbeat-interval")
	}
	switch c.DirectoryBackend {
	case DirectoryBus, DirectoryKV:
	default:
		return fmt.Errorf("unknown directory backend %q (want %s or %s)", c.DirectoryBackend, DirectoryBus, DirectoryKV)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the configured log level; --verbose forces debug.
func (c *Config) Level() zerolog.Level {
	if c.Verbose {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// RegisterFlags adds every setting to fs.
func RegisterFlags(fs *pflag.FlagSet, c *Config) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server URL (env: WORDPARTY_NATS_URL)")
	fs.StringVarP(&c.Name, "name", "n", c.Name, "display name (env: WORDPARTY_NAME)")
	fs.StringVarP(&c.Room, "room", "r", c.Room, "room code to join (env: WORDPARTY_ROOM)")
	fs.IntVar(&c.TotalRounds, "rounds", c.TotalRounds, "rounds per match (env: WORDPARTY_ROUNDS)")
	fs.DurationVar(&c.RoundTime, "round-time", c.RoundTime, "answering time per round (env: WORDPARTY_ROUND_TIME)")
	fs.DurationVar(&c.VoteTime, "vote-time", c.VoteTime, "voting time per round (env: WORDPARTY_VOTE_TIME)")
	fs.IntVar(&c.MaxPlayers, "max-players", c.MaxPlayers, "players advertised as room capacity (env: WORDPARTY_MAX_PLAYERS)")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "presence heartbeat interval (env: WORDPARTY_HEARTBEAT_INTERVAL)")
	fs.DurationVar(&c.PresenceTimeout, "presence-timeout", c.PresenceTimeout, "time before a silent peer is dropped (env: WORDPARTY_PRESENCE_TIMEOUT)")
	fs.DurationVar(&c.AdvertiseInterval, "advertise-interval", c.AdvertiseInterval, "public listing refresh interval (env: WORDPARTY_ADVERTISE_INTERVAL)")
	fs.DurationVar(&c.DirectoryTTL, "directory-ttl", c.DirectoryTTL, "time before an unrefreshed listing disappears (env: WORDPARTY_DIRECTORY_TTL)")
	fs.StringVar(&c.DirectoryBackend, "directory", c.DirectoryBackend, "public room directory backend: bus or kv (env: WORDPARTY_DIRECTORY)")
	fs.StringVar(&c.CategoriesFile, "categories", c.CategoriesFile, "extra category lists YAML file (env: WORDPARTY_CATEGORIES)")
	fs.StringVar(&c.ProfilePath, "profile", c.ProfilePath, "profile YAML file (env: WORDPARTY_PROFILE)")
	fs.StringVar(&c.ProfileDSN, "profile-dsn", c.ProfileDSN, "Postgres URL for profiles, overrides --profile (env: WORDPARTY_PROFILE_DSN)")
	fs.StringVar(&c.GatewayAddr, "addr", c.GatewayAddr, "gateway listen address (env: WORDPARTY_ADDR)")
	fs.StringVar(&c.PublicURL, "public-url", c.PublicURL, "base URL encoded in join QR codes (env: WORDPARTY_PUBLIC_URL)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (env: WORDPARTY_LOG_LEVEL)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "debug logging (env: WORDPARTY_VERBOSE)")
}

// ApplyEnv fills every flag the user did not set from its WORDPARTY_*
// environment variable.
func ApplyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
			}
		}
	})
	return errors.Join(errs...)
}

// LoadDotEnv loads .env files into the environment. Missing files are not
// an error.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("could not load env file")
		}
	}
}

// Database holds Postgres connection settings read from DB_* variables.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DatabaseFromEnv reads DB_* environment variables. ok is false when
// DB_HOST is not set.
func DatabaseFromEnv() (db Database, ok bool) {
	return Database{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Name:     getEnv("DB_NAME", "wordparty"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}, os.Getenv("DB_HOST") != ""
}

// DSN returns the Postgres connection URL.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// ProfileDatabaseURL is --profile-dsn, or the DB_* settings when only those
// are present. It is empty when profiles live in a file.
func (c *Config) ProfileDatabaseURL() string {
	if c.ProfileDSN != "" {
		return c.ProfileDSN
	}
	if db, ok := DatabaseFromEnv(); ok {
		return db.DSN()
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
