package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"wardrobeapi/combinations"
	"wardrobeapi/models"
	"wardrobeapi/services"
)

type WardrobeController struct {
	Storage  services.ObjectStorage
	URLCache services.URLCacheServiceProvider
}

func (controller *WardrobeController) WardrobeRoutes(g *echo.Group) {
	g.GET("", controller.GetWardrobe)
	g.POST("/items", controller.CreateItem)
	g.DELETE("/items/:itemId", controller.DeleteItem)
	g.POST("/items/:itemId/images", controller.AddItemImage)
	g.DELETE("/items/:itemId/images/:imageId", controller.DeleteItemImage)
	g.POST("/body/images", controller.AddBodyImage)
	g.DELETE("/body/images/:imageId", controller.DeleteBodyImage)
	g.POST("/images/:imageId/confirm", controller.ConfirmUpload)
}

func (controller *WardrobeController) GetWardrobe(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	wardrobe, err := models.LoadWardrobe(db, user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load your wardrobe"})
	}
	ctx := c.Request().Context()
	if wardrobe.Body != nil {
		controller.fillURLs(ctx, wardrobe.Body)
	}
	for _, items := range [][]models.WardrobeItem{wardrobe.Tops, wardrobe.Bottoms, wardrobe.Accessories} {
		for i := range items {
			controller.fillURLs(ctx, &items[i])
		}
	}
	return c.JSON(http.StatusOK, wardrobe)
}

func (controller *WardrobeController) fillURLs(ctx context.Context, item *models.WardrobeItem) {
	for i := range item.Images {
		image := &item.Images[i]
		if !image.Uploaded {
			continue
		}
		url, err := controller.URLCache.GetReadURL(ctx, image.ObjectKey)
		if err != nil {
			fmt.Printf("[Wardrobe] Unable to presign %s: %v\n", image.ObjectKey, err)
			continue
		}
		image.URL = &url
	}
}

func (controller *WardrobeController) CreateItem(c echo.Context) error {
	var req models.WardrobeItemIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	role, _ := models.RoleOf(req.Role)

	var count int64
	db.Model(&models.WardrobeItem{}).Where("owner_id = ? AND role = ?", user.ID, role).Count(&count)
	item := models.WardrobeItem{OwnerID: user.ID, Role: role, Name: req.Name, Position: int(count)}
	if err := db.Create(&item).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[Wardrobe] error on creating item for %v: %w", user.ID, err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not create item"})
	}
	item.Images = []models.WardrobeImage{}
	return c.JSON(http.StatusCreated, item)
}

func (controller *WardrobeController) findItem(c echo.Context, db *gorm.DB, ownerID uint) (*models.WardrobeItem, error) {
	itemId, err := uintParam(c, "itemId")
	if err != nil {
		return nil, echo.ErrBadRequest
	}
	var item models.WardrobeItem
	result := db.Preload("Images").Where("id = ? AND owner_id = ?", itemId, ownerID).Take(&item)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, echo.ErrNotFound
	}
	if result.Error != nil {
		return nil, echo.ErrInternalServerError
	}
	return &item, nil
}

func (controller *WardrobeController) DeleteItem(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	item, err := controller.findItem(c, db, user.ID)
	if err != nil {
		return err
	}
	if item.Role == combinations.RoleBody {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Body photos are removed one by one"})
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("wardrobe_item_id = ?", item.ID).Delete(&models.WardrobeImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(item).Error
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not delete item"})
	}
	for _, image := range item.Images {
		controller.deleteObject(c.Request().Context(), image.ObjectKey)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "deleted"})
}

// deleteObject removes stored photos best effort. Frozen runs may still
// reference the key, so storage errors never fail the request.
func (controller *WardrobeController) deleteObject(ctx context.Context, objectKey string) {
	if err := controller.Storage.DeleteObject(ctx, objectKey); err != nil {
		fmt.Printf("[Wardrobe] Unable to delete %s: %v\n", objectKey, err)
	}
}

func (controller *WardrobeController) addImage(c echo.Context, db *gorm.DB, user models.UserAccount, item *models.WardrobeItem) error {
	var req models.ImageUploadIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if !services.IsAllowedImageFile(req.FileName) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Only jpg, png and webp photos are supported"})
	}

	objectKey := services.NewObjectKey(fmt.Sprintf("users/%d/wardrobe", user.ID), req.FileName)
	uploadUrl, err := controller.Storage.PresignUpload(c.Request().Context(), objectKey)
	if err != nil {
		fmt.Printf("[Wardrobe] Unable to presign upload for %v: %v\n", user.ID, err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Error while preparing upload, please try again"})
	}
	image := models.WardrobeImage{WardrobeItemID: item.ID, ObjectKey: objectKey, Position: len(item.Images)}
	if err := db.Create(&image).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not save photo"})
	}
	return c.JSON(http.StatusCreated, models.ImageUploadOut{ImageId: image.ID, UploadUrl: uploadUrl})
}

func (controller *WardrobeController) AddItemImage(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	item, err := controller.findItem(c, db, user.ID)
	if err != nil {
		return err
	}
	return controller.addImage(c, db, user, item)
}

func (controller *WardrobeController) AddBodyImage(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	var body models.WardrobeItem
	err := db.Preload("Images").
		Where(models.WardrobeItem{OwnerID: user.ID, Role: combinations.RoleBody}).
		FirstOrCreate(&body).Error
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load body photos"})
	}
	return controller.addImage(c, db, user, &body)
}

func (controller *WardrobeController) deleteImage(c echo.Context, db *gorm.DB, itemID uint) error {
	imageId, err := uintParam(c, "imageId")
	if err != nil {
		return echo.ErrBadRequest
	}
	var image models.WardrobeImage
	result := db.Where("id = ? AND wardrobe_item_id = ?", imageId, itemID).Take(&image)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return echo.ErrNotFound
	}
	if result.Error != nil {
		return echo.ErrInternalServerError
	}
	if err := db.Delete(&image).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not delete photo"})
	}
	controller.deleteObject(c.Request().Context(), image.ObjectKey)
	return c.JSON(http.StatusOK, map[string]string{"message": "deleted"})
}

func (controller *WardrobeController) DeleteItemImage(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	item, err := controller.findItem(c, db, user.ID)
	if err != nil {
		return err
	}
	return controller.deleteImage(c, db, item.ID)
}

func (controller *WardrobeController) DeleteBodyImage(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	var body models.WardrobeItem
	result := db.Where("owner_id = ? AND role = ?", user.ID, combinations.RoleBody).Take(&body)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return echo.ErrNotFound
	}
	return controller.deleteImage(c, db, body.ID)
}

// ConfirmUpload marks a photo usable once the client finished the presigned PUT.
func (controller *WardrobeController) ConfirmUpload(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	imageId, err := uintParam(c, "imageId")
	if err != nil {
		return echo.ErrBadRequest
	}
	result := db.Model(&models.WardrobeImage{}).
		Where("id = ? AND wardrobe_item_id IN (?)", imageId, db.Model(&models.WardrobeItem{}).Select("id").Where("owner_id = ?", user.ID)).
		Update("uploaded", true)
	if result.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not confirm upload"})
	}
	if result.RowsAffected == 0 {
		return echo.ErrNotFound
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "uploaded"})
}
