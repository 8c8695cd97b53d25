package model

import "time"

// Session is one conversation scope bound to a single uploaded document.
// Its title is derived from the uploaded filename and may be renamed later.
type Session struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
