package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db/models"
)

// Repository defines persistence operations for credit packages and subscription allotments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActivePackages(ctx context.Context, userID uuid.UUID) ([]models.CreditPackage, error)
	FindPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	IncrementUsed(ctx context.Context, id uuid.UUID, expectedUsed int) (bool, error)
	SumRemaining(ctx context.Context, userID uuid.UUID) (int, error)

	FindActiveSubscription(ctx context.Context, userID uuid.UUID, at time.Time) (*models.Subscription, error)
	CountSubscriptionOrders(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) (int64, error)
	EnsureUsage(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.SubscriptionUsage, error)
	IncrementUsage(ctx context.Context, usageID uuid.UUID, expectedUsed, limit int) (bool, error)
}
