package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs at startup.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	BoardID    string        `yaml:"board_id"`
	Debug      bool          `yaml:"debug"`
	LogFormat  string        `yaml:"log_format"`
	Storage    StorageConfig `yaml:"storage"`
	Redis      RedisConfig   `yaml:"redis"`
	Auth       AuthConfig    `yaml:"auth"`
}

type StorageConfig struct {
	ConnectionString string `yaml:"connection_string"`
	SnapshotTable    string `yaml:"snapshot_table"`
	CommandQueue     string `yaml:"command_queue"`
	EnsureResources  bool   `yaml:"ensure_resources"`
}

type RedisConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	SnapshotTTL      time.Duration `yaml:"snapshot_ttl"`
	DeduperTTL       time.Duration `yaml:"deduper_ttl"`
}

type AuthConfig struct {
	Domain       string `yaml:"domain"`
	Audience     string `yaml:"audience"`
	SharedSecret string `yaml:"shared_secret"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		BoardID:    "default",
		Storage:    StorageConfig{SnapshotTable: "BoardSnapshots"},
		Redis: RedisConfig{
			SnapshotTTL: time.Hour,
			DeduperTTL:  24 * time.Hour,
		},
	}
}

// loadConfig applies, in order, the defaults, the YAML file named by
// TASKBOARD_CONFIG and the environment.
func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaultConfig()
	if path, ok := lookup("TASKBOARD_CONFIG"); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	str("SNAPSHOT_TABLE", &cfg.Storage.SnapshotTable)
	str("COMMAND_QUEUE", &cfg.Storage.CommandQueue)
	str("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)
	str("BOARD_ID", &cfg.BoardID)
	str("AUTH0_DOMAIN", &cfg.Auth.Domain)
	str("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	str("LOCAL_AUTH_SHARED_SECRET", &cfg.Auth.SharedSecret)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + port
	}

	var err error
	if cfg.Debug, err = envBool(lookup, "DEBUG", cfg.Debug); err != nil {
		return Config{}, err
	}
	if cfg.Storage.EnsureResources, err = envBool(lookup, "ENSURE_STORAGE", cfg.Storage.EnsureResources); err != nil {
		return Config{}, err
	}
	if cfg.Redis.SnapshotTTL, err = envDuration(lookup, "SNAPSHOT_CACHE_TTL", cfg.Redis.SnapshotTTL); err != nil {
		return Config{}, err
	}
	if cfg.Redis.DeduperTTL, err = envDuration(lookup, "DEDUPER_TTL", cfg.Redis.DeduperTTL); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BoardID) == "" {
		return errors.New("board id must not be empty")
	}
	if c.Storage.ConnectionString != "" && c.Storage.SnapshotTable == "" {
		return errors.New("snapshot table must be set when storage is configured")
	}
	if c.Storage.CommandQueue != "" && c.Storage.ConnectionString == "" {
		return errors.New("command queue requires STORAGE_CONNECTION_STRING")
	}
	if (c.Auth.Domain == "") != (c.Auth.Audience == "") {
		return errors.New("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set together")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	return nil
}

func envBool(lookup func(string) (string, bool), key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

// redisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=true" connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, errors.New("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(v), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
