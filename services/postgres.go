package services

import (
	"fmt"
	"time"

	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func postgresDSN() string {
	if dsn := shared.GetEnv("DATABASE_URL", ""); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		shared.GetEnv("DB_HOST", "localhost"),
		shared.GetEnv("DB_USER", "postgres"),
		shared.GetEnv("DB_PASSWORD", "postgres"),
		shared.GetEnv("DB_NAME", "guard_api"),
		shared.GetEnv("DB_PORT", "5432"),
		shared.GetEnv("DB_SSLMODE", "disable"),
		shared.GetEnv("DB_TIMEZONE", "UTC"),
	)
}

// openPostgres retries with exponential backoff so the API can start
// alongside its database container.
func openPostgres(dsn string, cfg *gorm.Config) (db *gorm.DB, err error) {
	maxRetries := shared.GetEnvInt("DB_CONNECT_RETRIES", 10)
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.WithField("attempt", attempt).Info("Connecting to postgres")

		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			sqlDB, dbErr := db.DB()
			if dbErr == nil {
				if err = sqlDB.Ping(); err == nil {
					sqlDB.SetMaxOpenConns(shared.GetEnvInt("DB_MAX_OPEN_CONNS", 25))
					sqlDB.SetMaxIdleConns(shared.GetEnvInt("DB_MAX_IDLE_CONNS", 5))
					sqlDB.SetConnMaxLifetime(shared.GetEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute))
					return db, nil
				}
			} else {
				err = dbErr
			}
		}

		if attempt == maxRetries {
			break
		}
		log.WithError(err).WithField("retry_in", retryDelay).Warn("Postgres connection failed")
		time.Sleep(retryDelay)

		retryDelay *= 2
		if retryDelay > 10*time.Second {
			retryDelay = 10 * time.Second
		}
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", maxRetries, err)
}
