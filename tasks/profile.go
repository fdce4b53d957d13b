package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"wardrobeapi/combinations"
	"wardrobeapi/models"
	"wardrobeapi/services"
)

// HandleProfileDetectTask reads body stats off the first body image and merges
// them into the profile without clearing anything the user entered.
func HandleProfileDetectTask(ctx context.Context, t *asynq.Task, db *gorm.DB, detector services.ProfileDetector) error {
	var payload ProfileDetectPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}
	tag := fmt.Sprintf("[Profile: %v]", payload.UserID)

	profile, err := models.FindOrCreateProfile(db, payload.UserID)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("%s error on loading profile: %w", tag, err))
		return err
	}

	wardrobe, err := models.LoadWardrobe(db, payload.UserID)
	if err != nil {
		return err
	}
	var keys []string
	if wardrobe.Body != nil {
		keys = wardrobe.Body.ImageKeys()
	}
	if len(keys) == 0 {
		fmt.Printf("%s No body image to analyze\n", tag)
		saveDetectionStatus(db, profile, models.DetectionFailed)
		return fmt.Errorf("%s no body image: %w", tag, asynq.SkipRetry)
	}

	fmt.Printf("%s Detecting from %s\n", tag, keys[0])
	detected, err := detector.DetectProfile(ctx, combinations.Image{Key: keys[0]})
	if err != nil {
		fmt.Printf("%s Detection failed: %v\n", tag, err)
		sentry.CaptureException(fmt.Errorf("%s detection failed: %w", tag, err))
		saveDetectionStatus(db, profile, models.DetectionFailed)
		return err
	}

	// reload, the user may have edited the profile meanwhile
	profile, err = models.FindOrCreateProfile(db, payload.UserID)
	if err != nil {
		return err
	}
	changed := profile.MergeDetected(detected.ToProfile())
	profile.DetectionStatus = models.DetectionDone
	if err := db.Save(profile).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("%s error on saving profile: %w", tag, err))
		return err
	}
	fmt.Printf("%s Detection finished, changed: %v\n", tag, changed)
	return nil
}

func saveDetectionStatus(db *gorm.DB, profile *models.UserProfile, status string) {
	db.Model(profile).Update("detection_status", status)
}
