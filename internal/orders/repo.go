package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

const statusColumns = "id, user_id, status, payment_status, is_instrumental, has_custom_lyric, approved_lyric_id, updated_at"

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindStatusRow(ctx context.Context, id uuid.UUID) (*StatusRow, error) {
	var row StatusRow
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select(statusColumns).
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) CountLyrics(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Lyric{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	return count, err
}

func (r *repository) ListLyrics(ctx context.Context, orderID uuid.UUID) ([]models.Lyric, error) {
	var lyrics []models.Lyric
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("version ASC").
		Find(&lyrics).Error
	return lyrics, err
}

func (r *repository) FindLyric(ctx context.Context, orderID, lyricID uuid.UUID) (*models.Lyric, error) {
	var lyric models.Lyric
	err := r.db.WithContext(ctx).
		Where("id = ? AND order_id = ?", lyricID, orderID).
		First(&lyric).Error
	if err != nil {
		return nil, err
	}
	return &lyric, nil
}

func (r *repository) CreateLyrics(ctx context.Context, lyrics []models.Lyric) error {
	if len(lyrics) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lyrics).Error
}

func (r *repository) UpdateLyricContent(ctx context.Context, lyricID uuid.UUID, content string) error {
	return r.db.WithContext(ctx).
		Model(&models.Lyric{}).
		Where("id = ?", lyricID).
		Updates(map[string]any{"content": content, "edited": true}).Error
}

// CompareAndSetStatus applies updates only while the order still sits in one of
// the expected statuses. It reports whether a row was changed.
func (r *repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SettlePayment marks the order paid unless it already is.
func (r *repository) SettlePayment(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", id, enums.PaymentStatusPaid).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Touch(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListWithoutLyrics(ctx context.Context, statuses []enums.OrderStatus, updatedBefore time.Time, limit int) ([]StatusRow, error) {
	var rows []StatusRow
	q := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select(statusColumns).
		Where("status IN ?", statuses).
		Where("updated_at < ?", updatedBefore).
		Where("NOT EXISTS (SELECT 1 FROM lyrics WHERE lyrics.order_id = orders.id)").
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
