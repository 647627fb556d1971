package model

import "time"

// User is an account that pays for machine time.
type User struct {
	ID             int64   `gorm:"primaryKey"`
	Name           string  `gorm:"uniqueIndex;size:255;not null"`
	CashBalance    float64 `gorm:"type:numeric(10,2);not null;default:0"`
	HashedPassword string  `gorm:"size:255;not null"`
	IsAdmin        bool    `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
