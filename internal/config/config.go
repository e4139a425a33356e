// Package config provides configuration management for the catalog service.
// Configuration is layered: defaults, then an optional YAML file, then
// CATALOG_-prefixed environment variables.
package config

import "time"

type AppConfig struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	MySQL     MySQLConfig     `koanf:"mysql"`
	Redis     RedisConfig     `koanf:"redis"`
	Inventory InventoryConfig `koanf:"inventory"`
}

type ServerConfig struct {
	ListenAddr   string        `koanf:"listen_addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

type MySQLConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	PoolSize int    `koanf:"pool_size"`
}

type InventoryConfig struct {
	// LockTTL bounds both the distributed lock expiry and the row lock
	// metadata expiry.
	LockTTL time.Duration `koanf:"lock_ttl"`
	// ReleaseTimeout bounds the cleanup step that clears lock state on exit.
	ReleaseTimeout time.Duration `koanf:"release_timeout"`
	// ReserveMaxRetries is the HTTP layer's retry budget on version conflicts.
	ReserveMaxRetries uint64 `koanf:"reserve_max_retries"`
	// ProductCacheTTL is the TTL of cached product DTOs.
	ProductCacheTTL time.Duration `koanf:"product_cache_ttl"`
}
