package controllers

import (
	"net/http"
	"os"

	"github.com/go-playground/validator"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"wardrobeapi/models"
	"wardrobeapi/services"
	"wardrobeapi/tasks"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func SetupServer(
	db *gorm.DB,
	storage services.ObjectStorage,
	urlCache services.URLCacheServiceProvider,
	enqueuer tasks.Enqueuer,
	events services.RunEventSubscriber,
) *echo.Echo {

	e := echo.New()
	v := validator.New()
	v.RegisterValidation("platform", models.ValidatePlatform)
	v.RegisterValidation("garment_role", models.ValidateGarmentRole)
	e.Validator = &CustomValidator{validator: v}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("__db", db)
			c.Set("__asynqclient", enqueuer)
			return next(c)
		}
	})

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	authGroup := e.Group("/auth")
	authController := AuthController{}
	authController.AuthRoutes(authGroup)

	userGroup := e.Group("", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)

	wardrobeController := WardrobeController{Storage: storage, URLCache: urlCache}
	wardrobeController.WardrobeRoutes(userGroup.Group("/wardrobe"))

	profileController := ProfileController{}
	profileController.ProfileRoutes(userGroup.Group("/profile"))

	outfitsController := OutfitsController{URLCache: urlCache, Events: events}
	outfitsController.OutfitRoutes(userGroup.Group("/outfits"))

	return e
}
