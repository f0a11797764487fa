package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/joho/godotenv"
)

type Config struct {
	RelayAddr    string
	SignalingURL string
	LogLevel     string
	Store        StoreConfig
	ICE          ICEConfig
	Call         CallConfig
}

type StoreConfig struct {
	Kind       string
	SQLitePath string
	Redis      RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type ICEConfig struct {
	STUNURLs       []string
	TURNURL        string
	TURNUsername   string
	TURNCredential string
}

type CallConfig struct {
	SelfID               domain.UserID
	PeerID               domain.UserID
	RoomID               domain.RoomID
	Role                 domain.Role
	AutoAccept           bool
	ConnectTimeout       time.Duration
	DirectPathTimeout    time.Duration
	StatsInterval        time.Duration
	MaxReconnectAttempts int
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Load reads the environment after merging envFiles (default ".env") into it.
// Variables already set win over file values; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	p := parser{}
	cfg := &Config{
		RelayAddr:    getEnv("RELAY_ADDR", ":8080"),
		SignalingURL: getEnv("SIGNALING_URL", "ws://localhost:8080/ws"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Store: StoreConfig{
			Kind:       getEnv("CALL_STORE", StoreMemory),
			SQLitePath: getEnv("SQLITE_PATH", "data/calls.db"),
			Redis: RedisConfig{
				Host:     getEnv("REDIS_HOST", "localhost"),
				Port:     getEnv("REDIS_PORT", "6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       p.getInt("REDIS_DB", 0),
			},
		},
		ICE: ICEConfig{
			STUNURLs:       splitList(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")),
			TURNURL:        getEnv("TURN_URL", ""),
			TURNUsername:   getEnv("TURN_USERNAME", ""),
			TURNCredential: getEnv("TURN_CREDENTIAL", ""),
		},
		Call: CallConfig{
			SelfID:               domain.UserID(getEnv("SELF_ID", "")),
			PeerID:               domain.UserID(getEnv("PEER_ID", "")),
			RoomID:               domain.RoomID(getEnv("ROOM_ID", "")),
			Role:                 domain.Role(getEnv("ROLE", string(domain.RoleCaller))),
			AutoAccept:           p.getBool("AUTO_ACCEPT", false),
			ConnectTimeout:       p.getDuration("CONNECT_TIMEOUT", 30*time.Second),
			DirectPathTimeout:    p.getDuration("DIRECT_PATH_TIMEOUT", 10*time.Second),
			StatsInterval:        p.getDuration("STATS_INTERVAL", 2*time.Second),
			MaxReconnectAttempts: p.getInt("MAX_RECONNECT_ATTEMPTS", 3),
		},
	}
	if err := p.err(); err != nil {
		return nil, err
	}

	switch cfg.Store.Kind {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return nil, fmt.Errorf("CALL_STORE: unknown store %q", cfg.Store.Kind)
	}
	if !cfg.Call.Role.Valid() {
		return nil, fmt.Errorf("ROLE: unknown role %q", cfg.Call.Role)
	}
	return cfg, nil
}

func (c *Config) Transport() domain.TransportConfig {
	return domain.NewTransportConfig(c.ICE.STUNURLs, c.ICE.TURNURL, c.ICE.TURNUsername, c.ICE.TURNCredential)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects every malformed value so one run reports them all.
type parser struct {
	errs []error
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}
