package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

// PostgresConfig holds the settings needed to open a connection.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the key/value connection string used by GORM.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// DatabaseURL returns the URL form used by golang-migrate.
func (c PostgresConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// Connect opens a GORM connection, retrying while the database starts up.
func Connect(cfg PostgresConfig, log *zap.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err = open(cfg)
		if err == nil {
			log.Info("connected to database",
				zap.String("host", cfg.Host),
				zap.String("database", cfg.DBName),
			)
			return db, nil
		}

		log.Warn("database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		time.Sleep(connectBackoff)
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", connectAttempts, err)
}

func open(cfg PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations applies all pending migrations from the given directory.
func RunMigrations(databaseURL, migrationsPath string, log *zap.Logger) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database schema up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("database migrations applied")
	return nil
}
