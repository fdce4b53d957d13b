package services

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"wardrobeapi/models"
)

type Notifier interface {
	Notify(ctx context.Context, userId uint, title string, message string, customData map[string]string) error
}

type FirebaseNotifier struct {
	App *firebase.App
	DB  *gorm.DB
}

func NewFirebaseNotifier(ctx context.Context, db *gorm.DB) (*FirebaseNotifier, error) {
	app, err := firebase.NewApp(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	return &FirebaseNotifier{App: app, DB: db}, nil
}

func stringMapToInterfaceMap(stringMap map[string]string) map[string]interface{} {
	interfaceMap := make(map[string]interface{}, len(stringMap))
	for key, value := range stringMap {
		interfaceMap[key] = value
	}
	return interfaceMap
}

// BuildPushMessages builds one FCM message per active token of the user.
func BuildPushMessages(tokens []models.UserPushToken, title string, body string, customData map[string]string) []*messaging.Message {
	var apnsCustomData map[string]interface{}
	if customData != nil {
		apnsCustomData = stringMapToInterfaceMap(customData)
	}

	messages := make([]*messaging.Message, 0, len(tokens))
	for _, token := range tokens {
		messages = append(messages, &messaging.Message{
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			APNS: &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{
						ContentAvailable: true,
						Alert: &messaging.ApsAlert{
							Title: title,
							Body:  body,
						},
						Sound: "default",
					},
					CustomData: apnsCustomData,
				},
			},
			Android: &messaging.AndroidConfig{
				Notification: &messaging.AndroidNotification{
					Priority:  messaging.AndroidNotificationPriority(messaging.PriorityHigh),
					ChannelID: "wardrobe-looks",
				},
				Data: customData,
			},
			Token: token.Token,
		})
	}
	return messages
}

func (n *FirebaseNotifier) Notify(ctx context.Context, userId uint, title string, message string, customData map[string]string) error {
	var tokens []models.UserPushToken
	if err := n.DB.Where("user_account_id = ? and active = true", userId).Find(&tokens).Error; err != nil {
		return fmt.Errorf("failed to load push tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	client, err := n.App.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("error initing FB client: %w", err)
	}
	br, err := client.SendEach(ctx, BuildPushMessages(tokens, title, message, customData))
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[User: %v] push failed: %w", userId, err))
		return err
	}
	fmt.Printf("[User: %v] Push sent: %d ok, %d failed\n", userId, br.SuccessCount, br.FailureCount)
	for i, response := range br.Responses {
		if response != nil && !response.Success && messaging.IsUnregistered(response.Error) {
			n.DB.Model(&models.UserPushToken{}).Where("id = ?", tokens[i].ID).Update("active", false)
		}
	}
	return nil
}
