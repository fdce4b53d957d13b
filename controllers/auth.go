package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"wardrobeapi/models"
)

type AuthController struct{}

func (controller *AuthController) AuthRoutes(g *echo.Group) {
	g.POST("/guest", controller.GuestSignIn)
}

// GuestSignIn gets or creates the device account and returns a token for it.
func (controller *AuthController) GuestSignIn(c echo.Context) error {
	db := c.Get("__db").(*gorm.DB)
	var req models.GuestAuthIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	now := time.Now()
	var user models.UserAccount
	created := false
	result := db.Where("device_id = ?", req.DeviceId).Take(&user)
	switch {
	case errors.Is(result.Error, gorm.ErrRecordNotFound):
		user = models.UserAccount{
			DeviceID:             req.DeviceId,
			Platform:             req.Platform,
			LastIp:               c.RealIP(),
			ReceiveNotifications: true,
			LastSeenAt:           &now,
		}
		if err := db.Create(&user).Error; err != nil {
			sentry.CaptureException(fmt.Errorf("[Auth] error on creating guest %s: %w", req.DeviceId, err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not sign in, please try again"})
		}
		created = true
		fmt.Printf("[Auth] New guest %v on %s\n", user.ID, user.Platform)
	case result.Error != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not sign in, please try again"})
	default:
		if user.Banned {
			return echo.NewHTTPError(http.StatusLocked)
		}
		db.Model(&user).Updates(map[string]interface{}{"last_ip": c.RealIP(), "last_seen_at": now, "platform": req.Platform})
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, models.GuestAuthOut{
		Id:          user.ID,
		New:         created,
		AccessToken: GenerateUserToken(UIntToStr(user.ID), c),
	})
}
