package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// CreditPackage is a purchased bundle of credits owned by a single user.
// UsedCredits never exceeds TotalCredits and IsActive mirrors UsedCredits < TotalCredits.
type CreditPackage struct {
	ID           uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	Kind         enums.CreditPackageKind `gorm:"column:kind;type:credit_package_kind;not null;default:'standard'"`
	PlanID       *string                 `gorm:"column:plan_id"`
	TotalCredits int                     `gorm:"column:total_credits;not null"`
	UsedCredits  int                     `gorm:"column:used_credits;not null;default:0"`
	IsActive     bool                    `gorm:"column:is_active;not null;default:true"`
	PurchasedAt  time.Time               `gorm:"column:purchased_at;not null"`
	CreatedAt    time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// Remaining returns the unused balance.
func (p CreditPackage) Remaining() int {
	if p.UsedCredits >= p.TotalCredits {
		return 0
	}
	return p.TotalCredits - p.UsedCredits
}
