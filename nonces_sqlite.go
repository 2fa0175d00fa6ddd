package main

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// ConsumedNonce is a row of the router_nonces table.
type ConsumedNonce struct {
	Nonce      string    `gorm:"primaryKey;size:512"`
	ConsumedAt time.Time `gorm:"not null"`
}

func (ConsumedNonce) TableName() string {
	return "router_nonces"
}

// SQLiteNonceRegistry stores the ledger in an embedded SQLite database through gorm. A reservation
// is an open transaction holding the inserted row.
type SQLiteNonceRegistry struct {
	db *gorm.DB
}

func OpenSQLiteNonceRegistry(path string) (*SQLiteNonceRegistry, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewSQLiteNonceRegistry(db)
}

func NewSQLiteNonceRegistry(db *gorm.DB) (*SQLiteNonceRegistry, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer. Reservations queue on the pool instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ConsumedNonce{}); err != nil {
		return nil, err
	}
	return &SQLiteNonceRegistry{db: db}, nil
}

func (registry *SQLiteNonceRegistry) Reserve(ctx context.Context, nonce []byte) (NonceReservation, error) {
	tx := registry.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	row := ConsumedNonce{Nonce: NonceKey(nonce), ConsumedAt: time.Now().UTC()}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, ErrNonceAlreadyUsed
	}

	return &sqliteReservation{tx: tx}, nil
}

func (registry *SQLiteNonceRegistry) IsConsumed(ctx context.Context, nonce []byte) (bool, error) {
	var count int64
	err := registry.db.WithContext(ctx).
		Model(&ConsumedNonce{}).
		Where("nonce = ?", NonceKey(nonce)).
		Count(&count).Error
	return count > 0, err
}

func (registry *SQLiteNonceRegistry) Close() error {
	sqlDB, err := registry.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqliteReservation struct {
	tx      *gorm.DB
	settled bool
	// aborted is set when Commit failed; the transaction is already over and its insert is gone.
	aborted bool
}

func (reservation *sqliteReservation) Commit(ctx context.Context) error {
	if reservation.settled || reservation.aborted {
		return errReservationSettled
	}
	if err := reservation.tx.Commit().Error; err != nil {
		reservation.aborted = true
		return err
	}
	reservation.settled = true
	return nil
}

func (reservation *sqliteReservation) Rollback(ctx context.Context) error {
	if reservation.settled {
		return errReservationSettled
	}
	reservation.settled = true
	if reservation.aborted {
		return nil
	}
	return reservation.tx.Rollback().Error
}
