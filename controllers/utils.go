package controllers

import (
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"wardrobeapi/models"
	"wardrobeapi/tasks"
)

func BoolPointer(b bool) *bool {
	return &b
}

func StrPointer(b string) *string {
	return &b
}

func UIntToStr(value uint) string {
	return strconv.FormatUint(uint64(value), 10)
}

func GenerateUserToken(userPk string, c echo.Context) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userPk,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 24 * 90)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	t, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		c.Logger().Errorf("Error when signing user token for %s. Error %s ", userPk, err)
	}
	return t
}

// contextDeps pulls the per-request dependencies set by SetupServer.
func contextDeps(c echo.Context) (models.UserAccount, *gorm.DB, bool) {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return user, nil, false
	}
	db, ok := c.Get("__db").(*gorm.DB)
	return user, db, ok
}

func enqueuerFrom(c echo.Context) (tasks.Enqueuer, bool) {
	enqueuer, ok := c.Get("__asynqclient").(tasks.Enqueuer)
	return enqueuer, ok && enqueuer != nil
}

func uintParam(c echo.Context, name string) (uint, error) {
	var value uint
	err := echo.PathParamsBinder(c).Uint(name, &value).BindError()
	return value, err
}
