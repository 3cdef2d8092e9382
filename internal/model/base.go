package model

import "time"

// Base holds the columns every table shares. Ids are uuid strings.
type Base struct {
	ID        string `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
