package models

import (
	"time"

	"github.com/google/uuid"
)

// Lyric is one generated or user-edited lyric option for an order.
type Lyric struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	Version   int       `gorm:"column:version;not null;default:1"`
	Title     string    `gorm:"column:title;not null;default:''"`
	Content   string    `gorm:"column:content;not null"`
	Edited    bool      `gorm:"column:edited;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
