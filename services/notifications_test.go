package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardrobeapi/models"
)

func TestBuildPushMessages(t *testing.T) {
	tokens := []models.UserPushToken{
		{Token: "android-token", Platform: models.PlatformAndroid},
		{Token: "ios-token", Platform: models.PlatformIOS},
	}

	messages := BuildPushMessages(tokens, "Your looks are ready", "4 of 4 outfits rendered", map[string]string{"run_id": "12"})

	require.Len(t, messages, 2)
	assert.Equal(t, "android-token", messages[0].Token)
	assert.Equal(t, "Your looks are ready", messages[0].Notification.Title)
	assert.Equal(t, "12", messages[0].Android.Data["run_id"])
	assert.Equal(t, "12", messages[1].APNS.Payload.CustomData["run_id"])
	assert.Equal(t, "4 of 4 outfits rendered", messages[1].APNS.Payload.Aps.Alert.Body)
}

func TestBuildPushMessagesWithoutData(t *testing.T) {
	messages := BuildPushMessages([]models.UserPushToken{{Token: "t"}}, "t", "b", nil)
	require.Len(t, messages, 1)
	assert.Nil(t, messages[0].APNS.Payload.CustomData)
}
