package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// Subscription mirrors the external subscription record that grants a per-period allotment.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	ExternalID         string                   `gorm:"column:external_id;not null;unique"`
	PlanID             string                   `gorm:"column:plan_id;not null"`
	Status             enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	CreditsPerPeriod   int                      `gorm:"column:credits_per_period;not null"`
	CurrentPeriodStart time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd   time.Time                `gorm:"column:current_period_end;not null"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// SubscriptionUsage counts allotment consumption for one billing period.
type SubscriptionUsage struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID `gorm:"column:subscription_id;type:uuid;not null"`
	PeriodStart    time.Time `gorm:"column:period_start;not null"`
	UsedCredits    int       `gorm:"column:used_credits;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
