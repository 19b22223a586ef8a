package database_test

import (
	"context"
	"errors"
	"testing"

	"gymledger/internal/config"
	"gymledger/internal/infrastructure/database"
	"gymledger/internal/model"
	"gymledger/internal/testutil"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"mysql deadlock", &mysqldriver.MySQLError{Number: 1213}, true},
		{"mysql lock wait", &mysqldriver.MySQLError{Number: 1205}, true},
		{"mysql duplicate key", &mysqldriver.MySQLError{Number: 1062}, false},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"wrapped", errors.Join(errors.New("insert"), &mysqldriver.MySQLError{Number: 1213}), true},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, database.IsTransient(tt.err))
		})
	}
}

func TestTransaction_RetriesDeadlock(t *testing.T) {
	db := testutil.NewDB(t)

	calls := 0
	err := database.Transaction(context.Background(), db, 3, func(tx *gorm.DB) error {
		calls++
		if err := tx.Create(&model.CreditAccount{OwnerID: int64(calls)}).Error; err != nil {
			return err
		}
		if calls == 1 {
			return &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	// the first attempt rolled back
	var count int64
	require.NoError(t, db.Model(&model.CreditAccount{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransaction_GivesUpAfterAttempts(t *testing.T) {
	db := testutil.NewDB(t)

	calls := 0
	err := database.Transaction(context.Background(), db, 3, func(tx *gorm.DB) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	assert.True(t, database.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestTransaction_PermanentErrorNotRetried(t *testing.T) {
	db := testutil.NewDB(t)
	boom := errors.New("constraint")

	calls := 0
	err := database.Transaction(context.Background(), db, 3, func(tx *gorm.DB) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Database: "gym",
	}
	assert.Equal(t, "u:p@tcp(db:3306)/gym?charset=utf8mb4&parseTime=True&loc=UTC", database.DSN(cfg))

	cfg.Driver = "postgres"
	cfg.Port = 5432
	cfg.SSLMode = "disable"
	assert.Contains(t, database.DSN(cfg), "host=db port=5432 user=u password=p dbname=gym sslmode=disable")
}
