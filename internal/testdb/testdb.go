// Package testdb opens the postgres database used by repository tests.
// Tests skip when TEST_DB_CONN_STR is not set.
package testdb

import (
	"os"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Open(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_CONN_STR")
	if dsn == "" {
		t.Skip("TEST_DB_CONN_STR not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Skipf("Database connection not initialized: %v", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}
