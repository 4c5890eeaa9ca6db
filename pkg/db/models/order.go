package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// Order is one purchasable music-creation request together with the briefing
// inputs needed to regenerate it.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Status          enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'DRAFT'"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'PENDING'"`
	IsInstrumental  bool                `gorm:"column:is_instrumental;not null;default:false"`
	HasCustomLyric  bool                `gorm:"column:has_custom_lyric;not null;default:false"`
	ApprovedLyricID *uuid.UUID          `gorm:"column:approved_lyric_id;type:uuid"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null;default:0"`

	CreditSource    *enums.CreditSource `gorm:"column:credit_source;type:credit_source"`
	CreditPackageID *uuid.UUID          `gorm:"column:credit_package_id;type:uuid"`
	SubscriptionID  *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	PlanID          *string             `gorm:"column:plan_id"`
	CreditUsedAt    *time.Time          `gorm:"column:credit_used_at"`

	HonoreeName         string            `gorm:"column:honoree_name;not null"`
	Relationship        *string           `gorm:"column:relationship"`
	Occasion            *string           `gorm:"column:occasion"`
	Story               string            `gorm:"column:story;not null"`
	MusicStyle          string            `gorm:"column:music_style;not null"`
	Mood                *string           `gorm:"column:mood"`
	Tempo               *string           `gorm:"column:tempo"`
	SongStructure       *string           `gorm:"column:song_structure"`
	Instrumentation     *string           `gorm:"column:instrumentation"`
	VoiceType           *string           `gorm:"column:voice_type"`
	Language            string            `gorm:"column:language;not null;default:'pt'"`
	CustomLyric         *string           `gorm:"column:custom_lyric"`
	Pronunciations      map[string]string `gorm:"column:pronunciations;type:jsonb;serializer:json"`
	VoiceNoteURL        *string           `gorm:"column:voice_note_url"`
	VoiceNoteTranscript *string           `gorm:"column:voice_note_transcript"`
	StylePrompt         *string           `gorm:"column:style_prompt"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
