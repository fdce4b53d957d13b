package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardrobeapi/combinations"
	"wardrobeapi/models"
	"wardrobeapi/tasks"
	"wardrobeapi/test"
)

func TestProfileUpdate(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-profile")
	pk := test.UserPk(user)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("GET", "/profile", pk, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	param := map[string]interface{}{"height": " 180cm ", "occasion": "Wedding", "volumetric": true}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("PUT", "/profile", pk, param))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.UserProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "180cm", resp.Height)
	assert.Equal(t, "Wedding", resp.Occasion)
	assert.True(t, resp.Volumetric)

	// absent fields are left alone
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("PUT", "/profile", pk, map[string]interface{}{"skin_tone": "Olive"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var profile models.UserProfile
	require.NoError(t, deps.db.Where("user_account_id = ?", user.ID).First(&profile).Error)
	assert.Equal(t, "180cm", profile.Height)
	assert.Equal(t, "Olive", profile.SkinTone)
	assert.Equal(t, "Wedding", profile.Occasion)

	var count int64
	deps.db.Model(&models.UserProfile{}).Where("user_account_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestProfileDetect(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-detect")
	pk := test.UserPk(user)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/profile/detect", pk, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, deps.enqueuer.Tasks)

	test.FakeItem(deps.db, user, combinations.RoleBody, 0, "users/body.png")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/profile/detect", pk, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []string{tasks.TypeProfileDetect}, deps.enqueuer.Types())

	var profile models.UserProfile
	require.NoError(t, deps.db.Where("user_account_id = ?", user.ID).First(&profile).Error)
	assert.Equal(t, models.DetectionInProgress, profile.DetectionStatus)
}

func TestRegisterPushAndSettings(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-push")
	pk := test.UserPk(user)

	param := models.UserPushIn{Token: "fresh-token", Platform: models.PlatformIOS}
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/profile/push-token", pk, param))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	var count int64
	deps.db.Model(&models.UserPushToken{}).Where("user_account_id = ? AND token = ?", user.ID, "fresh-token").Count(&count)
	assert.Equal(t, int64(1), count)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/profile/push-token", pk, models.UserPushIn{Token: "t", Platform: "symbian"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("PUT", "/profile/settings", pk, models.UserSettingsIn{ReceiveNotifications: false}))
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.UserAccount
	deps.db.First(&updated, user.ID)
	assert.False(t, updated.ReceiveNotifications)
}
