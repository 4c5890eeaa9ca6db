package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

var (
	ErrCreditExhausted = pkgerrors.New(pkgerrors.CodeCreditExhausted, "credit package exhausted")
	ErrNeedsPurchase   = pkgerrors.New(pkgerrors.CodeNeedsPurchase, "no credits available")
	ErrAlreadyConsumed = pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "order already paid")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// orderSettler is the slice of the order store the ledger writes through.
type orderSettler interface {
	GetFreshStatus(ctx context.Context, orderID uuid.UUID) (*orders.Snapshot, error)
	SettleWithCredit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, settlement orders.CreditSettlement) error
}

// Ledger debits exactly one unit of purchasing power per order.
type Ledger interface {
	Consume(ctx context.Context, userID, orderID uuid.UUID) (*ConsumeResult, error)
}

// ConsumeResult reports which source paid for the order.
type ConsumeResult struct {
	Source          enums.CreditSource `json:"source"`
	Remaining       int                `json:"remaining"`
	PlanID          *string            `json:"planId,omitempty"`
	CreditPackageID *uuid.UUID         `json:"creditPackageId,omitempty"`
	SubscriptionID  *uuid.UUID         `json:"subscriptionId,omitempty"`
}

// ServiceParams wires the ledger.
type ServiceParams struct {
	Repo     Repository
	Orders   orderSettler
	Tx       txRunner
	Notifier notifications.Notifier
	Metrics  *metrics.FulfillmentMetrics
	Logger   *logger.Logger
	Config   config.CreditsConfig
}

type service struct {
	repo       Repository
	orders     orderSettler
	tx         txRunner
	notifier   notifications.Notifier
	metrics    *metrics.FulfillmentMetrics
	logg       *logger.Logger
	casRetries int
	guard      string
	now        func() time.Time
}

// NewService builds the credit ledger.
func NewService(params ServiceParams) (Ledger, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	guard := params.Config.SubscriptionGuard
	if guard == "" {
		guard = config.SubscriptionGuardCount
	}
	retries := params.Config.CASRetries
	if retries < 0 {
		retries = 0
	}
	return &service{
		repo:       params.Repo,
		orders:     params.Orders,
		tx:         params.Tx,
		notifier:   notifier,
		metrics:    params.Metrics,
		logg:       params.Logger,
		casRetries: retries,
		guard:      guard,
		now:        time.Now,
	}, nil
}

func (s *service) Consume(ctx context.Context, userID, orderID uuid.UUID) (*ConsumeResult, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"user_id":  userID.String(),
			"order_id": orderID.String(),
		})
	}

	snap, err := s.orders.GetFreshStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if snap.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	if snap.PaymentStatus.Settled() {
		s.metrics.IncCreditConsumption("none", "already_consumed")
		return nil, ErrAlreadyConsumed
	}

	pkgs, err := s.repo.ListActivePackages(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list credit packages")
	}

	var result *ConsumeResult
	if pkg := selectPackage(pkgs); pkg != nil {
		result, err = s.consumePackage(ctx, userID, orderID, *pkg)
	} else {
		result, err = s.consumeSubscription(ctx, userID, orderID)
	}
	if err != nil {
		s.metrics.IncCreditConsumption(sourceLabel(result), resultLabel(err))
		if errors.Is(err, orders.ErrAlreadyPaid) {
			return nil, ErrAlreadyConsumed
		}
		return nil, err
	}

	s.metrics.IncCreditConsumption(string(result.Source), "success")
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"credit_source": result.Source,
			"remaining":     result.Remaining,
		}), "credit consumed")
	}
	s.notifier.Notify(ctx, notifications.Event{
		Type:    enums.EventCreditConsumed,
		OrderID: orderID,
		UserID:  userID,
		Data: payloads.CreditConsumedEvent{
			OrderID:         orderID,
			UserID:          userID,
			Source:          result.Source,
			CreditPackageID: result.CreditPackageID,
			SubscriptionID:  result.SubscriptionID,
			PlanID:          result.PlanID,
			Remaining:       result.Remaining,
		},
	})
	return result, nil
}

// selectPackage picks the oldest standard package with balance, falling back to
// the oldest preview package.
func selectPackage(pkgs []models.CreditPackage) *models.CreditPackage {
	var preview *models.CreditPackage
	for i := range pkgs {
		pkg := &pkgs[i]
		if pkg.Remaining() <= 0 {
			continue
		}
		if pkg.Kind == enums.CreditPackageKindPreview {
			if preview == nil {
				preview = pkg
			}
			continue
		}
		return pkg
	}
	return preview
}

// consumePackage debits the package and settles the order in one transaction.
// A lost compare-and-swap re-reads the package and retries up to casRetries times.
func (s *service) consumePackage(ctx context.Context, userID, orderID uuid.UUID, pkg models.CreditPackage) (*ConsumeResult, error) {
	result := &ConsumeResult{
		Source:          enums.CreditSourcePackage,
		PlanID:          pkg.PlanID,
		CreditPackageID: &pkg.ID,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		expected := pkg.UsedCredits
		debited := false
		for attempt := 0; attempt <= s.casRetries; attempt++ {
			ok, err := repo.IncrementUsed(ctx, pkg.ID, expected)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit credit package")
			}
			if ok {
				debited = true
				break
			}
			fresh, err := repo.FindPackage(ctx, pkg.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload credit package")
			}
			if fresh.Remaining() <= 0 {
				return ErrCreditExhausted
			}
			expected = fresh.UsedCredits
		}
		if !debited {
			return ErrCreditExhausted
		}

		if err := s.orders.SettleWithCredit(ctx, tx, orderID, orders.CreditSettlement{
			Source:          enums.CreditSourcePackage,
			CreditPackageID: &pkg.ID,
			PlanID:          pkg.PlanID,
			UsedAt:          s.now().UTC(),
		}); err != nil {
			return err
		}

		remaining, err := repo.SumRemaining(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum remaining credits")
		}
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// consumeSubscription settles the order against the current period's allotment.
func (s *service) consumeSubscription(ctx context.Context, userID, orderID uuid.UUID) (*ConsumeResult, error) {
	now := s.now().UTC()
	sub, err := s.repo.FindActiveSubscription(ctx, userID, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNeedsPurchase
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	planID := sub.PlanID
	result := &ConsumeResult{
		Source:         enums.CreditSourceSubscription,
		PlanID:         &planID,
		SubscriptionID: &sub.ID,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var (
			used int
			err  error
		)
		switch s.guard {
		case config.SubscriptionGuardCounter:
			used, err = s.debitUsageCounter(ctx, repo, sub)
		default:
			// Counting settled orders leaves a window where two concurrent
			// requests both see the last unit; overdraft is bounded to one per racer.
			var count int64
			count, err = repo.CountSubscriptionOrders(ctx, sub.ID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
			if err == nil && int(count) >= sub.CreditsPerPeriod {
				err = ErrNeedsPurchase
			}
			used = int(count) + 1
		}
		if err != nil {
			return err
		}

		if err := s.orders.SettleWithCredit(ctx, tx, orderID, orders.CreditSettlement{
			Source:         enums.CreditSourceSubscription,
			SubscriptionID: &sub.ID,
			PlanID:         &planID,
			UsedAt:         now,
		}); err != nil {
			return err
		}
		result.Remaining = sub.CreditsPerPeriod - used
		if result.Remaining < 0 {
			result.Remaining = 0
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// debitUsageCounter applies the package compare-and-swap to the period usage row.
func (s *service) debitUsageCounter(ctx context.Context, repo Repository, sub *models.Subscription) (int, error) {
	usage, err := repo.EnsureUsage(ctx, sub.ID, sub.CurrentPeriodStart)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription usage")
	}
	expected := usage.UsedCredits
	for attempt := 0; attempt <= s.casRetries; attempt++ {
		if expected >= sub.CreditsPerPeriod {
			return 0, ErrNeedsPurchase
		}
		ok, err := repo.IncrementUsage(ctx, usage.ID, expected, sub.CreditsPerPeriod)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit subscription usage")
		}
		if ok {
			return expected + 1, nil
		}
		fresh, err := repo.EnsureUsage(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload subscription usage")
		}
		expected = fresh.UsedCredits
	}
	return 0, ErrCreditExhausted
}

func sourceLabel(result *ConsumeResult) string {
	if result == nil {
		return "none"
	}
	return string(result.Source)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrCreditExhausted):
		return "exhausted"
	case errors.Is(err, ErrNeedsPurchase):
		return "needs_purchase"
	case errors.Is(err, orders.ErrAlreadyPaid):
		return "already_consumed"
	default:
		return "error"
	}
}
