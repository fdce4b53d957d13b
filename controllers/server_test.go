package controllers

import (
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"wardrobeapi/dbhelper"
	"wardrobeapi/services"
	"wardrobeapi/test"
)

type testDeps struct {
	db       *gorm.DB
	storage  *test.MemoryStorage
	enqueuer *test.MockEnqueuer
	bus      *test.MemoryEventBus
}

func setupTestServer(t *testing.T) (*echo.Echo, testDeps) {
	t.Helper()
	db := dbhelper.SetupTestDB(t)
	deps := testDeps{
		db:       db,
		storage:  test.NewMemoryStorage(),
		enqueuer: &test.MockEnqueuer{},
		bus:      test.NewMemoryEventBus(),
	}
	urlCache, err := services.NewURLCacheService(deps.storage)
	require.NoError(t, err)
	return SetupServer(db, deps.storage, urlCache, deps.enqueuer, deps.bus), deps
}
