package record

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/furchert/authd/internal/common/config"
)

// NewStore creates a record store based on configuration
func NewStore(logger *zap.Logger, cfg *config.StorageConfig) (Store, error) {
	logger.Info("Initializing record store", zap.String("type", cfg.Type))
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Retention)
	case "sqlite":
		return NewSQLiteStore(&cfg.Database)
	case "postgres":
		return NewPostgresStore(&cfg.Database)
	case "mysql":
		return NewMySQLStore(&cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported record store type: %s", cfg.Type)
	}
}
