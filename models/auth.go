package models

import "time"

type JsonModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GuestAuthIn registers (or re-enters) an anonymous device account.
type GuestAuthIn struct {
	DeviceId string   `json:"device_id" validate:"required"`
	Platform Platform `json:"platform" validate:"required,platform"` //ios,android,web
}

type GuestAuthOut struct {
	Id          uint   `json:"id"`
	New         bool   `json:"new"`
	AccessToken string `json:"access_token"`
}
