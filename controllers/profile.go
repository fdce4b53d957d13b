package controllers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	"wardrobeapi/models"
	"wardrobeapi/tasks"
)

type ProfileController struct{}

func (controller *ProfileController) ProfileRoutes(g *echo.Group) {
	g.GET("", controller.GetProfile)
	g.PUT("", controller.UpdateProfile)
	g.POST("/detect", controller.DetectProfile)
	g.POST("/push-token", controller.RegisterPush)
	g.PUT("/settings", controller.UpdateSettings)
}

func (controller *ProfileController) GetProfile(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	profile, err := models.FindOrCreateProfile(db, user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load profile"})
	}
	return c.JSON(http.StatusOK, profile)
}

func (controller *ProfileController) UpdateProfile(c echo.Context) error {
	var req models.UserProfileIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	profile, err := models.FindOrCreateProfile(db, user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load profile"})
	}
	req.Apply(profile)
	if err := db.Save(profile).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not save profile"})
	}
	return c.JSON(http.StatusOK, profile)
}

// DetectProfile queues auto-detection of body stats from the first body photo.
func (controller *ProfileController) DetectProfile(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	enqueuer, ok := enqueuerFrom(c)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Service is not available, please try again a bit later"})
	}
	wardrobe, err := models.LoadWardrobe(db, user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load body photos"})
	}
	if wardrobe.Body == nil || len(wardrobe.Body.ImageKeys()) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Add a body photo first"})
	}
	profile, err := models.FindOrCreateProfile(db, user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load profile"})
	}

	task, err := tasks.NewProfileDetectTask(user.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Sorry, could not analyze photo, please try again"})
	}
	info, err := enqueuer.Enqueue(task, asynq.MaxRetry(2), asynq.Queue(tasks.QueueGenerate))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Sorry, could not analyze photo, please try again"})
	}
	fmt.Printf("[Queue] Profile detect task submitted, User ID: %v Task ID %v\n", user.ID, info.ID)
	profile.DetectionStatus = models.DetectionInProgress
	db.Model(profile).Update("detection_status", profile.DetectionStatus)
	return c.JSON(http.StatusAccepted, profile)
}

func (controller *ProfileController) RegisterPush(c echo.Context) error {
	var tokenRequest models.UserPushIn
	if err := c.Bind(&tokenRequest); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(tokenRequest); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Please provide proper platform parameter"})
	}
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	pushData := models.UserPushToken{
		Platform:      tokenRequest.Platform,
		Token:         tokenRequest.Token,
		UserAccountID: user.ID,
		Active:        true,
	}
	// same token/device can sign in to diff accs and still receive pushes.
	result := db.Where("token = ? and user_account_id = ?", tokenRequest.Token, user.ID).FirstOrCreate(&pushData)
	if result.Error != nil {
		log.Println(result.Error)
		return echo.ErrInternalServerError
	}
	if !pushData.Active {
		db.Model(&pushData).Update("active", true)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "registered",
		"push_id": pushData.ID,
	})
}

func (controller *ProfileController) UpdateSettings(c echo.Context) error {
	var req models.UserSettingsIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	if err := db.Model(&user).Update("receive_notifications", req.ReceiveNotifications).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not save settings"})
	}
	return c.JSON(http.StatusOK, echo.Map{"receive_notifications": req.ReceiveNotifications})
}
