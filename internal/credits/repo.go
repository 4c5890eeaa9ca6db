package credits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/cantora-backend/pkg/db"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// Preview packages sort after standard ones; within a kind the oldest purchase wins.
const packageFIFOOrder = "CASE WHEN kind = 'preview' THEN 1 ELSE 0 END ASC, purchased_at ASC, id ASC"

type repository struct {
	db *gorm.DB
}

// NewRepository builds a credits repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListActivePackages(ctx context.Context, userID uuid.UUID) ([]models.CreditPackage, error) {
	var pkgs []models.CreditPackage
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND used_credits < total_credits", userID, true).
		Order(packageFIFOOrder).
		Find(&pkgs).Error
	return pkgs, err
}

func (r *repository) FindPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pkg).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

// IncrementUsed debits one credit only if used_credits still equals expectedUsed.
// is_active is recomputed in the same statement.
func (r *repository) IncrementUsed(ctx context.Context, id uuid.UUID, expectedUsed int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CreditPackage{}).
		Where("id = ? AND used_credits = ? AND used_credits < total_credits", id, expectedUsed).
		Updates(map[string]any{
			"used_credits": gorm.Expr("used_credits + 1"),
			"is_active":    gorm.Expr("used_credits + 1 < total_credits"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SumRemaining(ctx context.Context, userID uuid.UUID) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditPackage{}).
		Select("COALESCE(SUM(total_credits - used_credits), 0)").
		Where("user_id = ? AND is_active = ?", userID, true).
		Scan(&total).Error
	return int(total), err
}

func (r *repository) FindActiveSubscription(ctx context.Context, userID uuid.UUID, at time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, enums.CreditGrantingStatuses).
		Where("current_period_start <= ? AND current_period_end > ?", at, at).
		Order("current_period_end DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CountSubscriptionOrders counts orders settled by the subscription inside the period.
func (r *repository) CountSubscriptionOrders(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("subscription_id = ? AND credit_source = ?", subscriptionID, enums.CreditSourceSubscription).
		Where("credit_used_at >= ? AND credit_used_at < ?", from, to).
		Count(&count).Error
	return count, err
}

// EnsureUsage returns the usage counter for the period, creating it on first use.
func (r *repository) EnsureUsage(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.SubscriptionUsage, error) {
	usage, err := r.findUsage(ctx, subscriptionID, periodStart)
	if err == nil {
		return usage, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	row := models.SubscriptionUsage{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		PeriodStart:    periodStart,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return r.findUsage(ctx, subscriptionID, periodStart)
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) findUsage(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.SubscriptionUsage, error) {
	var usage models.SubscriptionUsage
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND period_start = ?", subscriptionID, periodStart).
		First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *repository) IncrementUsage(ctx context.Context, usageID uuid.UUID, expectedUsed, limit int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubscriptionUsage{}).
		Where("id = ? AND used_credits = ? AND used_credits < ?", usageID, expectedUsed, limit).
		Update("used_credits", gorm.Expr("used_credits + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
