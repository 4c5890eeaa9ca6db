package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// Repository defines persistence operations for orders and their lyrics.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindStatusRow(ctx context.Context, id uuid.UUID) (*StatusRow, error)
	CountLyrics(ctx context.Context, orderID uuid.UUID) (int64, error)
	ListLyrics(ctx context.Context, orderID uuid.UUID) ([]models.Lyric, error)
	FindLyric(ctx context.Context, orderID, lyricID uuid.UUID) (*models.Lyric, error)
	CreateLyrics(ctx context.Context, lyrics []models.Lyric) error
	UpdateLyricContent(ctx context.Context, lyricID uuid.UUID, content string) error
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, updates map[string]any) (bool, error)
	SettlePayment(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListWithoutLyrics(ctx context.Context, statuses []enums.OrderStatus, updatedBefore time.Time, limit int) ([]StatusRow, error)
}

// StatusRow is the narrow projection used for lifecycle checks.
type StatusRow struct {
	ID              uuid.UUID           `gorm:"column:id"`
	UserID          uuid.UUID           `gorm:"column:user_id"`
	Status          enums.OrderStatus   `gorm:"column:status"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status"`
	IsInstrumental  bool                `gorm:"column:is_instrumental"`
	HasCustomLyric  bool                `gorm:"column:has_custom_lyric"`
	ApprovedLyricID *uuid.UUID          `gorm:"column:approved_lyric_id"`
	UpdatedAt       time.Time           `gorm:"column:updated_at"`
}
