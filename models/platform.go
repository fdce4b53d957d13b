package models

import (
	"regexp"

	"github.com/go-playground/validator"

	"wardrobeapi/combinations"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

var (
	platformPattern = regexp.MustCompile("^(ios|android|web)$")
	rolePattern     = regexp.MustCompile("^(body|top|bottom|accessory)$")
	// body images are managed through their own endpoints
	garmentRolePattern = regexp.MustCompile("^(top|bottom|accessory)$")
)

func (l *Platform) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*l = Platform(v)
	case []byte:
		*l = Platform(v)
	}
	return nil
}

func (l Platform) Value() string {
	return string(l)
}

func ValidatePlatform(fl validator.FieldLevel) bool {
	return platformPattern.MatchString(fl.Field().String())
}

func ValidatePlatformRaw(value string) bool {
	return platformPattern.MatchString(value)
}

// ValidateGarmentRole accepts wardrobe roles a client may create items for.
func ValidateGarmentRole(fl validator.FieldLevel) bool {
	return garmentRolePattern.MatchString(fl.Field().String())
}

func ValidateRoleRaw(value string) bool {
	return rolePattern.MatchString(value)
}

func RoleOf(value string) (combinations.Role, bool) {
	if !ValidateRoleRaw(value) {
		return "", false
	}
	return combinations.Role(value), true
}
