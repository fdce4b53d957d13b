package models

import (
	"strconv"

	"gorm.io/gorm"

	"wardrobeapi/combinations"
)

// WardrobeItem is one garment (or the body reference set) with its photos.
// A user has at most one body item.
type WardrobeItem struct {
	JsonModel
	OwnerID  uint              `gorm:"index" json:"-"`
	Owner    UserAccount       `json:"-"`
	Role     combinations.Role `gorm:"index" json:"role"`
	Name     string            `json:"name"`
	Position int               `json:"position"`
	Images   []WardrobeImage   `gorm:"constraint:OnDelete:CASCADE" json:"images"`
}

type WardrobeImage struct {
	JsonModel
	WardrobeItemID uint   `gorm:"index" json:"-"`
	ObjectKey      string `json:"-"`
	Position       int    `json:"position"`
	// Set once the client confirms the presigned upload finished.
	Uploaded bool    `gorm:"default:false" json:"uploaded"`
	URL      *string `gorm:"-" json:"url"`
}

func (item WardrobeItem) ItemID() string {
	return strconv.FormatUint(uint64(item.ID), 10)
}

// ImageKeys lists uploaded image keys in display order.
func (item WardrobeItem) ImageKeys() []string {
	keys := make([]string, 0, len(item.Images))
	for _, image := range item.Images {
		if image.Uploaded && image.ObjectKey != "" {
			keys = append(keys, image.ObjectKey)
		}
	}
	return keys
}

func ImageSetFromKeys(keys []string) combinations.ImageSet {
	set := make(combinations.ImageSet, 0, len(keys))
	for _, key := range keys {
		set = append(set, combinations.Image{Key: key})
	}
	return set
}

func (item WardrobeItem) ToCore() combinations.WardrobeItem {
	return combinations.WardrobeItem{
		ID:     item.ItemID(),
		Role:   item.Role,
		Images: ImageSetFromKeys(item.ImageKeys()),
	}
}

type WardrobeItemIn struct {
	Role string `json:"role" validate:"required,garment_role"`
	Name string `json:"name"`
}

type ImageUploadIn struct {
	FileName string `json:"file_name" validate:"required"`
}

type ImageUploadOut struct {
	ImageId   uint   `json:"image_id"`
	UploadUrl string `json:"upload_url"`
}

type WardrobeOut struct {
	Body        *WardrobeItem  `json:"body"`
	Tops        []WardrobeItem `json:"tops"`
	Bottoms     []WardrobeItem `json:"bottoms"`
	Accessories []WardrobeItem `json:"accessories"`
}

// LoadWardrobe returns the owner's items grouped by role, each ordered by position.
func LoadWardrobe(db *gorm.DB, ownerID uint) (*WardrobeOut, error) {
	var items []WardrobeItem
	err := db.Preload("Images", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position, id")
	}).Where("owner_id = ?", ownerID).Order("position, id").Find(&items).Error
	if err != nil {
		return nil, err
	}
	wardrobe := &WardrobeOut{Tops: []WardrobeItem{}, Bottoms: []WardrobeItem{}, Accessories: []WardrobeItem{}}
	for i := range items {
		switch items[i].Role {
		case combinations.RoleBody:
			if wardrobe.Body == nil {
				wardrobe.Body = &items[i]
			}
		case combinations.RoleTop:
			wardrobe.Tops = append(wardrobe.Tops, items[i])
		case combinations.RoleBottom:
			wardrobe.Bottoms = append(wardrobe.Bottoms, items[i])
		case combinations.RoleAccessory:
			wardrobe.Accessories = append(wardrobe.Accessories, items[i])
		}
	}
	return wardrobe, nil
}

func (w WardrobeOut) Snapshot(volumetric bool) combinations.Snapshot {
	snapshot := combinations.Snapshot{Volumetric: volumetric}
	if w.Body != nil {
		snapshot.Body = ImageSetFromKeys(w.Body.ImageKeys())
	}
	for _, item := range w.Tops {
		snapshot.Tops = append(snapshot.Tops, item.ToCore())
	}
	for _, item := range w.Bottoms {
		snapshot.Bottoms = append(snapshot.Bottoms, item.ToCore())
	}
	for _, item := range w.Accessories {
		snapshot.Accessories = append(snapshot.Accessories, item.ToCore())
	}
	return snapshot
}
