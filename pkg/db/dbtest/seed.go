package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// SeedOrder inserts a paid-ready order with a minimal briefing. mutate may adjust
// any field before insert.
func SeedOrder(t *testing.T, conn *gorm.DB, mutate func(*models.Order)) models.Order {
	t.Helper()
	now := time.Now().UTC()
	order := models.Order{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Status:        enums.OrderStatusDraft,
		PaymentStatus: enums.PaymentStatusPending,
		HonoreeName:   "Marina",
		Story:         "Nos conhecemos na praia em 2015.",
		MusicStyle:    "MPB",
		Language:      "pt",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if mutate != nil {
		mutate(&order)
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// SeedLyric attaches a lyric row to an order.
func SeedLyric(t *testing.T, conn *gorm.DB, orderID uuid.UUID, content string) models.Lyric {
	t.Helper()
	lyric := models.Lyric{
		ID:        uuid.New(),
		OrderID:   orderID,
		Version:   1,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := conn.Create(&lyric).Error; err != nil {
		t.Fatalf("seed lyric: %v", err)
	}
	return lyric
}

// SeedPackage inserts a credit package for a user.
func SeedPackage(t *testing.T, conn *gorm.DB, userID uuid.UUID, total, used int, kind enums.CreditPackageKind, purchasedAt time.Time) models.CreditPackage {
	t.Helper()
	pkg := models.CreditPackage{
		ID:           uuid.New(),
		UserID:       userID,
		Kind:         kind,
		TotalCredits: total,
		UsedCredits:  used,
		IsActive:     used < total,
		PurchasedAt:  purchasedAt.UTC(),
	}
	if err := conn.Create(&pkg).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}
	// a false is_active is dropped on create in favour of the column default
	if !pkg.IsActive {
		if err := conn.Model(&models.CreditPackage{}).Where("id = ?", pkg.ID).Update("is_active", false).Error; err != nil {
			t.Fatalf("seed package inactive: %v", err)
		}
	}
	return pkg
}

// SeedSubscription inserts an active subscription whose period contains now.
func SeedSubscription(t *testing.T, conn *gorm.DB, userID uuid.UUID, planID string, perPeriod int) models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := models.Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		ExternalID:         "sub_" + uuid.NewString(),
		PlanID:             planID,
		Status:             enums.SubscriptionStatusActive,
		CreditsPerPeriod:   perPeriod,
		CurrentPeriodStart: now.Add(-24 * time.Hour),
		CurrentPeriodEnd:   now.Add(29 * 24 * time.Hour),
	}
	if err := conn.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}
