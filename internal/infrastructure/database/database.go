package database

import (
	"fmt"
	"time"

	"gymledger/internal/config"
	"gymledger/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN renders the connection string for the configured driver.
func DSN(cfg *config.DatabaseConfig) string {
	if cfg.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)
}

func dialector(cfg *config.DatabaseConfig) gorm.Dialector {
	if cfg.Driver == "postgres" {
		return postgres.Open(DSN(cfg))
	}
	return mysql.Open(DSN(cfg))
}

// NewGormLogger bridges gorm's logger onto logrus.
func NewGormLogger(log logrus.FieldLogger, slowThreshold time.Duration) logger.Interface {
	return logger.New(
		log.WithField("component", "gorm"),
		logger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Open connects to the configured database, sizes the pool and migrates the schema.
func Open(cfg *config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(cfg), &gorm.Config{
		Logger: NewGormLogger(log, time.Duration(cfg.SlowThresholdMS)*time.Millisecond),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"driver":   cfg.Driver,
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("database connected")
	return db, nil
}

// Migrate creates or updates the ledger tables.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Receivable{},
		&model.SettlementEntry{},
		&model.CreditAccount{},
		&model.CreditLedgerEntry{},
		&model.ApprovalRequest{},
		&model.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
