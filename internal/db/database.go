package db

import (
	"fmt"
	stlog "log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported DATABASE_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Database bundles the gorm handle used by the record store with the sqlx handle
// used for read-only reporting queries. Both share one connection pool.
type Database struct {
	Gorm   *gorm.DB
	SQL    *sqlx.DB
	Driver string
}

// Open connects to the record store.
func Open(driver, dsn string) (*Database, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gormCfg := &gorm.Config{Logger: newGormLogger(), TranslateError: true}

	switch driver {
	case DriverSQLite, "":
		gdb, err := gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite connection pool: %w", err)
		}
		// sqlite serialises writers; one connection avoids "database is locked" under concurrent webhooks.
		sqlDB.SetMaxOpenConns(1)
		log.Info().Str("driver", DriverSQLite).Msg("Database connection established successfully.")
		return &Database{Gorm: gdb, SQL: sqlx.NewDb(sqlDB, "sqlite3"), Driver: DriverSQLite}, nil

	case DriverPostgres:
		sx, err := sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		if err := sx.Ping(); err != nil {
			sx.Close()
			return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
		}
		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sx.DB}), gormCfg)
		if err != nil {
			sx.Close()
			return nil, fmt.Errorf("failed to initialise gorm over postgres: %w", err)
		}
		log.Info().Str("driver", DriverPostgres).Msg("Database connection established successfully.")
		return &Database{Gorm: gdb, SQL: sx, Driver: DriverPostgres}, nil
	}

	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// Migrate runs gorm's AutoMigrate for the provided models.
func (d *Database) Migrate(modelsToMigrate ...any) error {
	if d == nil || d.Gorm == nil {
		return fmt.Errorf("database not initialized, call Open first")
	}
	if len(modelsToMigrate) == 0 {
		return fmt.Errorf("no models provided for migration")
	}
	if err := d.Gorm.AutoMigrate(modelsToMigrate...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Info().Int("models_migrated", len(modelsToMigrate)).Msg("Database migration completed successfully.")
	return nil
}

// Close releases the shared connection pool.
func (d *Database) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// newGormLogger writes gorm's log lines through the global zerolog logger at a matching level.
func newGormLogger() gormlogger.Interface {
	var level gormlogger.LogLevel
	switch zerolog.GlobalLevel() {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		level = gormlogger.Info
	case zerolog.InfoLevel, zerolog.WarnLevel:
		level = gormlogger.Warn
	case zerolog.Disabled:
		level = gormlogger.Silent
	default:
		level = gormlogger.Error
	}

	return gormlogger.New(
		stlog.New(log.Logger, "", 0),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
