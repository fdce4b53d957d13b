package models

import (
	"strings"

	"gorm.io/gorm"

	"wardrobeapi/combinations"
)

// UserProfile holds the descriptive attributes used to personalise critiques.
type UserProfile struct {
	JsonModel
	UserAccountID   uint   `gorm:"uniqueIndex" json:"-"`
	Height          string `json:"height"`
	Weight          string `json:"weight"`
	SkinTone        string `json:"skin_tone"`
	BodyType        string `json:"body_type"`
	Occasion        string `json:"occasion"`
	StylePreference string `json:"style_preference"`
	Notes           string `json:"notes"`
	// 3D scan rendering mode
	Volumetric bool `gorm:"default:false" json:"volumetric"`
	// "", in_progress, done, failed
	DetectionStatus string `json:"detection_status"`
}

const (
	DetectionInProgress = "in_progress"
	DetectionDone       = "done"
	DetectionFailed     = "failed"
)

type UserProfileIn struct {
	Height          *string `json:"height"`
	Weight          *string `json:"weight"`
	SkinTone        *string `json:"skin_tone"`
	BodyType        *string `json:"body_type"`
	Occasion        *string `json:"occasion"`
	StylePreference *string `json:"style_preference"`
	Notes           *string `json:"notes"`
	Volumetric      *bool   `json:"volumetric"`
}

// Apply copies every field present in the request onto the profile.
func (in UserProfileIn) Apply(p *UserProfile) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&p.Height, in.Height)
	set(&p.Weight, in.Weight)
	set(&p.SkinTone, in.SkinTone)
	set(&p.BodyType, in.BodyType)
	set(&p.Occasion, in.Occasion)
	set(&p.StylePreference, in.StylePreference)
	set(&p.Notes, in.Notes)
	if in.Volumetric != nil {
		p.Volumetric = *in.Volumetric
	}
}

// MergeDetected merges auto-detected stats field by field. Empty detected
// values never overwrite what the user already has. Reports whether
// anything changed.
func (p *UserProfile) MergeDetected(detected combinations.UserProfile) bool {
	changed := false
	merge := func(dst *string, src string) {
		src = strings.TrimSpace(src)
		if src == "" || src == *dst {
			return
		}
		*dst = src
		changed = true
	}
	merge(&p.Height, detected.Height)
	merge(&p.Weight, detected.Weight)
	merge(&p.SkinTone, detected.SkinTone)
	merge(&p.BodyType, detected.BodyType)
	merge(&p.Notes, detected.Notes)
	return changed
}

func (p UserProfile) ToCore() combinations.UserProfile {
	return combinations.UserProfile{
		Height:          p.Height,
		Weight:          p.Weight,
		SkinTone:        p.SkinTone,
		BodyType:        p.BodyType,
		Occasion:        p.Occasion,
		StylePreference: p.StylePreference,
		Notes:           p.Notes,
		Volumetric:      p.Volumetric,
	}
}

func FindOrCreateProfile(db *gorm.DB, userID uint) (*UserProfile, error) {
	var profile UserProfile
	err := db.Where(UserProfile{UserAccountID: userID}).FirstOrCreate(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
