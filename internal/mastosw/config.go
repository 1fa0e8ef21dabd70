package mastosw

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCacheName   = "mastodon-pwa-v1"
	DefaultIcon        = "/icons/icon-192x192.png"
	FallbackTitle      = "Mastodon"
	FallbackBody       = "You have a new notification"
	NotificationsPath  = "/notifications"
	defaultStoragePath = "./data/leveldb"
)

// DefaultSeed is the must-have asset list cached at install time.
var DefaultSeed = []string{
	"/",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Push    PushConfig    `yaml:"push"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// Origin is where network fetches go (the front-end server).
	Origin string `yaml:"origin"`
	// PublicURL is the page origin as seen by browsers. Requests for any
	// other origin are cross-origin and never intercepted.
	PublicURL string `yaml:"publicURL"`

	publicURL *url.URL
}

type CacheConfig struct {
	Name     string   `yaml:"name"`
	Seed     []string `yaml:"seed"`
	MaxEntry string   `yaml:"maxEntry"`

	maxEntryBytes int64
}

type StorageConfig struct {
	Kind string `yaml:"kind"` // leveldb | memory
	Path string `yaml:"path"`
}

type APIConfig struct {
	BaseURL string `yaml:"baseURL"`
	Timeout string `yaml:"timeout"`

	timeoutDur time.Duration
}

type PushConfig struct {
	DefaultIcon   string `yaml:"defaultIcon"`
	FallbackTitle string `yaml:"fallbackTitle"`
	FallbackBody  string `yaml:"fallbackBody"`
	OpenWindow    *bool  `yaml:"openWindow"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Development   bool   `yaml:"development"`
	LogStatsEvery string `yaml:"logStatsEvery"`

	logStatsEveryDur time.Duration
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if _, err := url.Parse(cfg.Server.Origin); err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = cfg.Server.Origin
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
	pu, err := url.Parse(cfg.Server.PublicURL)
	if err != nil {
		return fmt.Errorf("server.publicURL: %w", err)
	}
	if pu.Scheme == "" || pu.Host == "" {
		return fmt.Errorf("server.publicURL: %q must be absolute", cfg.Server.PublicURL)
	}
	cfg.Server.publicURL = pu

	if cfg.Cache.Name == "" {
		cfg.Cache.Name = DefaultCacheName
	}
	if len(cfg.Cache.Seed) == 0 {
		cfg.Cache.Seed = append([]string(nil), DefaultSeed...)
	}
	for i, p := range cfg.Cache.Seed {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("cache.seed[%d]: %q must start with /", i, p)
		}
	}
	if cfg.Cache.MaxEntry == "" {
		cfg.Cache.MaxEntry = "16m"
	}
	n, err := parseBytes(cfg.Cache.MaxEntry)
	if err != nil {
		return fmt.Errorf("cache.maxEntry: %w", err)
	}
	cfg.Cache.maxEntryBytes = n

	switch cfg.Storage.Kind {
	case "":
		cfg.Storage.Kind = "leveldb"
	case "leveldb", "memory":
	default:
		return fmt.Errorf("storage.kind: unknown kind %q", cfg.Storage.Kind)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = cfg.Server.PublicURL
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	if cfg.API.Timeout == "" {
		cfg.API.Timeout = "15s"
	}
	if cfg.API.timeoutDur, err = time.ParseDuration(cfg.API.Timeout); err != nil {
		return fmt.Errorf("api.timeout: %w", err)
	}

	if cfg.Push.DefaultIcon == "" {
		cfg.Push.DefaultIcon = DefaultIcon
	}
	if cfg.Push.FallbackTitle == "" {
		cfg.Push.FallbackTitle = FallbackTitle
	}
	if cfg.Push.FallbackBody == "" {
		cfg.Push.FallbackBody = FallbackBody
	}
	if cfg.Push.OpenWindow == nil {
		on := true
		cfg.Push.OpenWindow = &on
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.LogStatsEvery != "" {
		if cfg.Logging.logStatsEveryDur, err = time.ParseDuration(cfg.Logging.LogStatsEvery); err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
	}
	return nil
}

// PageOrigin returns the parsed public URL.
func (c ServerConfig) PageOrigin() *url.URL {
	return c.publicURL
}
