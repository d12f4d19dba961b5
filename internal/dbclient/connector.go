package dbclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"microdata/internal/etl"
)

// Driver names a mirror backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
	DriverMongoDB  Driver = "mongodb"
)

// MirrorConfig describes one configured mirror.
type MirrorConfig struct {
	Name        string `yaml:"name" json:"name"`
	Driver      Driver `yaml:"driver" json:"driver"`
	DSN         string `yaml:"dsn" json:"dsn"`
	TablePrefix string `yaml:"table_prefix" json:"tablePrefix"`
}

// TableName returns the mirrored table (or collection) name for source.
func (c MirrorConfig) TableName(source string) string {
	return c.TablePrefix + source
}

// Mirror receives full copies of persisted tables.
type Mirror interface {
	etl.Destination

	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

// NewMirror opens a Mirror for cfg. Connections are lazy: nothing is dialled
// until the first call.
func NewMirror(cfg MirrorConfig, log *zap.Logger) (Mirror, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mirror %s: dsn is required", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = string(cfg.Driver)
	}
	switch cfg.Driver {
	case DriverSQLite:
		return newSQLiteMirror(name, cfg.DSN)
	case DriverMySQL:
		return newSQLMirror(name, "mysql", buildMySQLDSN(cfg.DSN), mysqlDialect)
	case DriverPostgres:
		return newSQLMirror(name, "postgres", cfg.DSN, postgresDialect)
	case DriverMongoDB:
		return newMongoMirror(name, cfg.DSN, log)
	default:
		return nil, fmt.Errorf("mirror %s: unsupported driver: %s", name, cfg.Driver)
	}
}
