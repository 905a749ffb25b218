package services

import (
	"fmt"
	"strings"

	"github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DatabaseService struct {
	context.DefaultService
	db *gorm.DB

	driver   string
	database string
}

const DATABASE_SVC = "database_svc"

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

func (ds DatabaseService) Id() string {
	return DATABASE_SVC
}

// Db Access to raw gorm db
func (ds DatabaseService) Db() *gorm.DB {
	return ds.db
}

func (ds DatabaseService) Driver() string {
	return ds.driver
}

func (ds *DatabaseService) Configure(ctx *context.Context) error {
	ds.driver = strings.ToLower(shared.GetEnv("DB_DRIVER", DriverPostgres))
	switch ds.driver {
	case DriverPostgres:
		ds.database = postgresDSN()
	case DriverSqlite:
		ds.database = shared.GetEnv("DB_DATABASE", "guard.db")
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", ds.driver)
	}
	return ds.DefaultService.Configure(ctx)
}

// NewDatabaseService builds a service outside the registry, for tools. An
// empty postgres database falls back to the DB_* environment.
func NewDatabaseService(driver, database string) *DatabaseService {
	driver = strings.ToLower(driver)
	if driver == DriverPostgres && database == "" {
		database = postgresDSN()
	}
	return &DatabaseService{driver: driver, database: database}
}

// Start opens the connection and migrates any tables that have changed
// since the last run.
func (ds *DatabaseService) Start() (err error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel()),
		TranslateError: true,
	}
	switch ds.driver {
	case DriverSqlite:
		ds.db, err = openSqlite(ds.database, cfg)
	default:
		ds.db, err = openPostgres(ds.database, cfg)
	}
	if err != nil {
		return err
	}

	if err := ds.db.AutoMigrate(Models()...); err != nil {
		log.WithError(err).Error("Failed to migrate database")
		return err
	}

	log.WithField("driver", ds.driver).Info("Database connected and migrated successfully")
	return nil
}

func (ds *DatabaseService) Shutdown() {
	if ds.db == nil {
		return
	}
	if sqlDB, err := ds.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Models lists every table the engine owns.
func Models() []interface{} {
	return []interface{}{
		&model.Report{},
		&model.Block{},
		&model.BlockEvent{},
		&model.QuotaPolicyOverride{},
	}
}

func gormLogLevel() logger.LogLevel {
	switch strings.ToUpper(shared.GetEnv("LOG_LEVEL", "INFO")) {
	case "TRACE":
		return logger.Info
	case "DEBUG":
		return logger.Warn
	}
	return logger.Error
}
