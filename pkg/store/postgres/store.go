package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cajaflow/cajaflow/pkg/config"
	"github.com/cajaflow/cajaflow/pkg/model"
)

type Store struct {
	db *gorm.DB
}

func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Store{db: db}, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&model.Tenant{},
		&model.Order{},
		&model.ProviderCredential{},
		&model.PaymentAttempt{},
		&model.EventLogEntry{},
		&model.Alert{},
	)
	if err != nil {
		return err
	}

	// The application-level existence check in the attempt ledger only
	// produces the friendly conflict error; this partial index is the actual
	// guarantee that closes the read-then-insert race.
	return s.db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_attempts_single_active
		 ON payment_attempts (tenant_id, order_id)
		 WHERE status IN ('PENDING', 'PROCESSING')`,
	).Error
}
