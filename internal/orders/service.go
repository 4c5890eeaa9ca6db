package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
)

const reasonInvalidStatus = "invalid status"

var (
	// ErrAlreadyPaid is returned when a settlement targets an order that is already paid.
	ErrAlreadyPaid = pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "order already paid")
	// ErrAlreadyAdvanced is returned when the order has moved past the requested stage.
	ErrAlreadyAdvanced = pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "order already advanced")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Store is the single reader and writer of order lifecycle state. Every read
// goes to durable storage.
type Store interface {
	GetFreshStatus(ctx context.Context, orderID uuid.UUID) (*Snapshot, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListLyrics(ctx context.Context, orderID uuid.UUID) ([]models.Lyric, error)
	CanApproveLyrics(ctx context.Context, orderID uuid.UUID) (*ApprovalCheck, error)
	IsStuck(ctx context.Context, orderID uuid.UUID) (bool, error)
	ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]Snapshot, error)

	SettleWithCredit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, settlement CreditSettlement) error
	BeginLyrics(ctx context.Context, orderID uuid.UUID, markPaid bool) error
	SaveGeneratedLyrics(ctx context.Context, orderID uuid.UUID, drafts []LyricDraft) ([]models.Lyric, error)
	CompleteApproval(ctx context.Context, input ApprovalInput) error
	Advance(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*Snapshot, error)
	Touch(ctx context.Context, orderID uuid.UUID) error
}

// Snapshot is a fresh view of an order's lifecycle position.
type Snapshot struct {
	OrderID         uuid.UUID           `json:"orderId"`
	UserID          uuid.UUID           `json:"userId"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentStatus   enums.PaymentStatus `json:"paymentStatus"`
	IsInstrumental  bool                `json:"isInstrumental"`
	HasCustomLyric  bool                `json:"hasCustomLyric"`
	ApprovedLyricID *uuid.UUID          `json:"approvedLyricId,omitempty"`
	LyricCount      int64               `json:"lyricCount"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Stuck reports whether generation never produced a lyric for a paid order.
func (s Snapshot) Stuck() bool {
	return contains(stuckStatuses, s.Status) && s.LyricCount == 0
}

// ApprovalCheck is the outcome of the lyric-approval gate.
type ApprovalCheck struct {
	CanApprove      bool              `json:"canApprove"`
	AlreadyApproved bool              `json:"alreadyApproved"`
	Reason          string            `json:"reason,omitempty"`
	Status          enums.OrderStatus `json:"status"`
}

// CreditSettlement records which credit paid for an order.
type CreditSettlement struct {
	Source          enums.CreditSource
	CreditPackageID *uuid.UUID
	SubscriptionID  *uuid.UUID
	PlanID          *string
	UsedAt          time.Time
}

// LyricDraft is a generated lyric option waiting to be persisted.
type LyricDraft struct {
	Title   string
	Content string
}

// ApprovalInput finalizes lyric approval. LyricID is nil for instrumental orders.
type ApprovalInput struct {
	OrderID      uuid.UUID
	LyricID      *uuid.UUID
	ApprovedText string
	StylePrompt  string
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService builds the order state store.
func NewService(repo Repository, tx txRunner) (Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, now: time.Now}, nil
}

func (s *service) GetFreshStatus(ctx context.Context, orderID uuid.UUID) (*Snapshot, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.snapshot(ctx, s.repo, orderID)
}

func (s *service) snapshot(ctx context.Context, repo Repository, orderID uuid.UUID) (*Snapshot, error) {
	row, err := repo.FindStatusRow(ctx, orderID)
	if err != nil {
		return nil, mapNotFound(err, "load order status")
	}
	count, err := repo.CountLyrics(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count lyrics")
	}
	snap := toSnapshot(*row)
	snap.LyricCount = count
	return &snap, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapNotFound(err, "load order")
	}
	return order, nil
}

func (s *service) ListLyrics(ctx context.Context, orderID uuid.UUID) ([]models.Lyric, error) {
	lyrics, err := s.repo.ListLyrics(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list lyrics")
	}
	return lyrics, nil
}

func (s *service) CanApproveLyrics(ctx context.Context, orderID uuid.UUID) (*ApprovalCheck, error) {
	snap, err := s.GetFreshStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return approvalCheckFor(snap.Status), nil
}

func approvalCheckFor(status enums.OrderStatus) *ApprovalCheck {
	switch {
	case contains(approvedStatuses, status):
		return &ApprovalCheck{AlreadyApproved: true, Status: status}
	case contains(preApprovalStatuses, status):
		return &ApprovalCheck{CanApprove: true, Status: status}
	default:
		return &ApprovalCheck{Reason: reasonInvalidStatus, Status: status}
	}
}

func (s *service) IsStuck(ctx context.Context, orderID uuid.UUID) (bool, error) {
	snap, err := s.GetFreshStatus(ctx, orderID)
	if err != nil {
		return false, err
	}
	return snap.Stuck(), nil
}

func (s *service) ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]Snapshot, error) {
	rows, err := s.repo.ListWithoutLyrics(ctx, stuckStatuses, updatedBefore, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stuck orders")
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSnapshot(row))
	}
	return out, nil
}

// SettleWithCredit marks the order paid by a credit inside the caller's transaction.
// Orders still before payment advance to PAID; later statuses are left untouched.
func (s *service) SettleWithCredit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, settlement CreditSettlement) error {
	if !settlement.Source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit source required")
	}
	repo := s.repo.WithTx(tx)
	usedAt := settlement.UsedAt
	if usedAt.IsZero() {
		usedAt = s.now().UTC()
	}
	updates := map[string]any{
		"payment_status":    enums.PaymentStatusPaid,
		"amount":            decimal.Zero,
		"credit_source":     settlement.Source,
		"credit_package_id": settlement.CreditPackageID,
		"subscription_id":   settlement.SubscriptionID,
		"plan_id":           settlement.PlanID,
		"credit_used_at":    usedAt,
	}
	ok, err := repo.SettlePayment(ctx, orderID, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle order payment")
	}
	if !ok {
		if _, err := repo.FindStatusRow(ctx, orderID); err != nil {
			return mapNotFound(err, "load order status")
		}
		return ErrAlreadyPaid
	}
	if _, err := repo.CompareAndSetStatus(ctx, orderID, []enums.OrderStatus{
		enums.OrderStatusDraft,
		enums.OrderStatusAwaitingPayment,
	}, map[string]any{"status": enums.OrderStatusPaid}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order to paid")
	}
	return nil
}

// BeginLyrics moves the order to LYRICS_PENDING before generation is dispatched.
// Orders that have not been settled yet require markPaid.
func (s *service) BeginLyrics(ctx context.Context, orderID uuid.UUID, markPaid bool) error {
	snap, err := s.GetFreshStatus(ctx, orderID)
	if err != nil {
		return err
	}
	if snap.Status.AtOrPast(enums.OrderStatusLyricsGenerated) {
		return ErrAlreadyAdvanced
	}
	if !contains(lyricsEntryStatuses, snap.Status) {
		return invalidTransition(snap.Status, enums.OrderStatusLyricsPending)
	}
	if !markPaid && !snap.PaymentStatus.Settled() {
		return pkgerrors.New(pkgerrors.CodeInvariantViolation, "order is not paid").
			WithDetails(map[string]any{"paymentStatus": snap.PaymentStatus})
	}

	updates := map[string]any{"status": enums.OrderStatusLyricsPending}
	if markPaid {
		updates["payment_status"] = enums.PaymentStatusPaid
	}
	ok, err := s.repo.CompareAndSetStatus(ctx, orderID, []enums.OrderStatus{snap.Status}, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark lyrics pending")
	}
	if ok {
		return nil
	}
	return s.resolveLostRace(ctx, s.repo, orderID, enums.OrderStatusLyricsPending)
}

// SaveGeneratedLyrics stores generated options and moves the order to LYRICS_GENERATED
// in one transaction. A second save for the same order is reported as ErrAlreadyAdvanced.
func (s *service) SaveGeneratedLyrics(ctx context.Context, orderID uuid.UUID, drafts []LyricDraft) ([]models.Lyric, error) {
	if len(drafts) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one lyric required")
	}
	var saved []models.Lyric
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.CompareAndSetStatus(ctx, orderID, []enums.OrderStatus{
			enums.OrderStatusLyricsPending,
			enums.OrderStatusPaid,
			enums.OrderStatusBriefingComplete,
		}, map[string]any{"status": enums.OrderStatusLyricsGenerated})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark lyrics generated")
		}
		if !ok {
			return s.resolveLostRace(ctx, repo, orderID, enums.OrderStatusLyricsGenerated)
		}

		existing, err := repo.CountLyrics(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count lyrics")
		}
		rows := make([]models.Lyric, 0, len(drafts))
		for i, draft := range drafts {
			content := strings.TrimSpace(draft.Content)
			if content == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "lyric content required")
			}
			rows = append(rows, models.Lyric{
				ID:      uuid.New(),
				OrderID: orderID,
				Version: int(existing) + i + 1,
				Title:   strings.TrimSpace(draft.Title),
				Content: content,
			})
		}
		if err := repo.CreateLyrics(ctx, rows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create lyrics")
		}
		saved = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// CompleteApproval records the approved lyric and style prompt and moves the order
// to LYRICS_APPROVED. The approved lyric id is written once and never replaced.
func (s *service) CompleteApproval(ctx context.Context, input ApprovalInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updates := map[string]any{"status": enums.OrderStatusLyricsApproved}
		if prompt := strings.TrimSpace(input.StylePrompt); prompt != "" {
			updates["style_prompt"] = prompt
		}

		if input.LyricID != nil {
			lyric, err := repo.FindLyric(ctx, input.OrderID, *input.LyricID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "lyric not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load lyric")
			}
			text := strings.TrimSpace(input.ApprovedText)
			if text != "" && text != lyric.Content {
				if err := repo.UpdateLyricContent(ctx, lyric.ID, text); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save edited lyric")
				}
			}
			updates["approved_lyric_id"] = lyric.ID
		}

		row, err := repo.FindStatusRow(ctx, input.OrderID)
		if err != nil {
			return mapNotFound(err, "load order status")
		}
		if row.ApprovedLyricID != nil {
			delete(updates, "approved_lyric_id")
		}
		if contains(approvedStatuses, row.Status) {
			return ErrAlreadyAdvanced
		}
		if !contains(preApprovalStatuses, row.Status) {
			return invalidTransition(row.Status, enums.OrderStatusLyricsApproved)
		}

		ok, err := repo.CompareAndSetStatus(ctx, input.OrderID, []enums.OrderStatus{row.Status}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approve lyrics")
		}
		if !ok {
			return s.resolveLostRace(ctx, repo, input.OrderID, enums.OrderStatusLyricsApproved)
		}
		return nil
	})
}

// Advance applies a staff-driven transition such as MUSIC_READY or CANCELLED.
func (s *service) Advance(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*Snapshot, error) {
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	snap, err := s.GetFreshStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if snap.Status == to {
		return snap, nil
	}
	if !CanTransition(snap.Status, to) {
		if to != enums.OrderStatusCancelled && snap.Status.AtOrPast(to) {
			return snap, nil
		}
		return nil, invalidTransition(snap.Status, to)
	}
	ok, err := s.repo.CompareAndSetStatus(ctx, orderID, []enums.OrderStatus{snap.Status}, map[string]any{"status": to})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order")
	}
	if !ok {
		if err := s.resolveLostRace(ctx, s.repo, orderID, to); err != nil && !errors.Is(err, ErrAlreadyAdvanced) {
			return nil, err
		}
	}
	return s.GetFreshStatus(ctx, orderID)
}

// Touch bumps updated_at without changing status.
func (s *service) Touch(ctx context.Context, orderID uuid.UUID) error {
	ok, err := s.repo.Touch(ctx, orderID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "touch order")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

// resolveLostRace explains a compare-and-set that changed nothing: either another
// writer already moved the order to (or past) the target, or the order is in a
// status the transition does not accept.
func (s *service) resolveLostRace(ctx context.Context, repo Repository, orderID uuid.UUID, target enums.OrderStatus) error {
	row, err := repo.FindStatusRow(ctx, orderID)
	if err != nil {
		return mapNotFound(err, "reload order status")
	}
	if row.Status == target || row.Status.AtOrPast(target) {
		return ErrAlreadyAdvanced
	}
	return invalidTransition(row.Status, target)
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvariantViolation, reasonInvalidStatus).
		WithDetails(map[string]any{"from": from, "to": to})
}

func mapNotFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}

func toSnapshot(row StatusRow) Snapshot {
	return Snapshot{
		OrderID:         row.ID,
		UserID:          row.UserID,
		Status:          row.Status,
		PaymentStatus:   row.PaymentStatus,
		IsInstrumental:  row.IsInstrumental,
		HasCustomLyric:  row.HasCustomLyric,
		ApprovedLyricID: row.ApprovedLyricID,
		UpdatedAt:       row.UpdatedAt,
	}
}
