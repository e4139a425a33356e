package config

import "time"

// DefaultAppConfig returns the baseline configuration; file and environment
// sources override it.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/haishop?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
		},
		Inventory: InventoryConfig{
			LockTTL:           30 * time.Second,
			ReleaseTimeout:    5 * time.Second,
			ReserveMaxRetries: 3,
			ProductCacheTTL:   5 * time.Minute,
		},
	}
}
