package dbhelper

import (
	"fmt"
	"os"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wardrobeapi/models"
	"wardrobeapi/services"
)

func dsn() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		services.GetEnv("DB_USERNAME", ""),
		services.GetEnv("DB_PASSWORD", ""),
		services.GetEnv("DB_HOST", ""),
		services.GetEnv("DB_PORT", ""),
		services.GetEnv("DB_NAME", ""),
	)
}

func open() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(300)
	sqlDB.SetConnMaxLifetime(time.Minute * 5)
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func SetupDB() *gorm.DB {
	db, err := open()
	if err != nil {
		panic(err)
	}
	MigrateAll(db)
	return db
}

func MigrateAll(db *gorm.DB) {
	Migrate(db, &models.UserAccount{})
	Migrate(db, &models.UserPushToken{})
	Migrate(db, &models.UserProfile{})
	Migrate(db, &models.WardrobeItem{})
	Migrate(db, &models.WardrobeImage{})
	Migrate(db, &models.OutfitRun{})
	Migrate(db, &models.OutfitResult{})
}

// SetupTestDB connects to the local test database, skipping the test when
// postgres is not reachable.
func SetupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	defaults := map[string]string{
		"DB_USERNAME": "wardrobe",
		"DB_PASSWORD": "wardrobe",
		"DB_HOST":     "localhost",
		"DB_NAME":     "wardrobe_test",
		"DB_PORT":     "5432",
		"JWT_SECRET":  "test-secret",
	}
	for key, value := range defaults {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	db, err := open()
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	MigrateAll(db)
	cleanup := SetupCleaner(db)
	cleanup()
	t.Cleanup(cleanup)
	return db
}
