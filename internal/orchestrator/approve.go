package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/internal/generation"
	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

// ApproveLyrics records the customer's lyric choice, generates the style prompt
// and hands the order to music production. Repeated calls for an approved order
// report alreadyProcessed without calling the provider again.
func (o *Orchestrator) ApproveLyrics(ctx context.Context, input ApproveInput) (res Result) {
	if input.OrderID == uuid.Nil {
		return Failure(pkgerrors.New(pkgerrors.CodeValidation, "order id required"))
	}
	orderID := input.OrderID
	ctx = o.withOrder(ctx, orderID)
	// before CompleteApproval commits the order is still approvable; after it,
	// a retry sees alreadyApproved
	defer func() {
		if r := recover(); r != nil {
			o.logError(ctx, "lyric approval panicked", fmt.Errorf("approve panic: %v", r))
			res = Failure(pkgerrors.New(pkgerrors.CodeInternal, "unexpected error, please try again"))
		}
	}()

	if res, done := o.approvalGate(ctx, orderID); done {
		return res
	}

	key := "approval:" + orderID.String()
	if !o.running.acquire(key) {
		return inProgress()
	}
	defer o.running.release(key)

	if o.locker != nil {
		release, ok, err := o.locker.Acquire(ctx, approvalLockScope, orderID, o.cfg.ApprovalLockTTL)
		switch {
		case err != nil:
			if o.logg != nil {
				o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "distributed approval lock unavailable, continuing with local guard")
			}
		case !ok:
			return inProgress()
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), markTimeout)
				defer cancel()
				release(releaseCtx)
			}()
		}
	}

	// another approval may have finished between the first gate and the lock
	if res, done := o.approvalGate(ctx, orderID); done {
		return res
	}

	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Failure(err)
	}
	text, err := o.approvedText(ctx, order, input)
	if err != nil {
		return Failure(err)
	}

	outcome := o.gateway.Invoke(ctx, generation.Request{
		Kind:          enums.GenerationKindStylePrompt,
		Briefing:      generation.BriefingFromOrder(order, o.briefingDefaults()),
		ApprovedLyric: text,
	}, o.gen.StylePromptTimeout, o.approvalPolicy())
	if !outcome.OK() {
		if res, done := o.approvalGate(ctx, orderID); done && res.AlreadyProcessed {
			return res
		}
		o.logError(ctx, "style prompt generation failed", outcome.Err)
		return Failure(outcomeError(outcome))
	}

	err = o.orders.CompleteApproval(ctx, orders.ApprovalInput{
		OrderID:      orderID,
		LyricID:      input.LyricID,
		ApprovedText: input.ApprovedText,
		StylePrompt:  outcome.Response.StylePrompt,
	})
	if err != nil {
		if errors.Is(err, orders.ErrAlreadyAdvanced) {
			return alreadyProcessed(enums.OrderStatusLyricsApproved)
		}
		return Failure(err)
	}

	o.notifier.Notify(ctx, notifications.Event{
		Type:    enums.EventLyricsApproved,
		OrderID: orderID,
		UserID:  order.UserID,
		Data: payloads.LyricsApprovedEvent{
			OrderID:         orderID,
			UserID:          order.UserID,
			ApprovedLyricID: input.LyricID,
			Instrumental:    order.IsInstrumental,
		},
		Once: true,
	})
	return Result{Success: true, Action: enums.FlowActionDashboard}
}

// approvalGate returns a final result when the order cannot or need not be approved.
func (o *Orchestrator) approvalGate(ctx context.Context, orderID uuid.UUID) (Result, bool) {
	check, err := o.orders.CanApproveLyrics(ctx, orderID)
	if err != nil {
		return Failure(err), true
	}
	if check.AlreadyApproved {
		return alreadyProcessed(check.Status), true
	}
	if !check.CanApprove {
		return Failure(pkgerrors.New(pkgerrors.CodeInvariantViolation, check.Reason)), true
	}
	return Result{}, false
}

func (o *Orchestrator) approvedText(ctx context.Context, order *models.Order, input ApproveInput) (string, error) {
	if text := strings.TrimSpace(input.ApprovedText); text != "" {
		return text, nil
	}
	if input.LyricID == nil {
		if order.IsInstrumental {
			return "", nil
		}
		return "", pkgerrors.New(pkgerrors.CodeValidation, "lyric id required")
	}
	lyrics, err := o.orders.ListLyrics(ctx, order.ID)
	if err != nil {
		return "", err
	}
	for _, lyric := range lyrics {
		if lyric.ID == *input.LyricID {
			return lyric.Content, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeNotFound, "lyric not found")
}

func (o *Orchestrator) briefingDefaults() generation.BriefingDefaults {
	return generation.BriefingDefaults{Language: o.cfg.DefaultLanguage, VoiceType: o.cfg.DefaultVoiceType}
}

func inProgress() Result {
	return Result{
		Success:   false,
		Action:    enums.FlowActionDashboard,
		Error:     "action already in progress",
		ErrorCode: pkgerrors.CodeActionInProgress,
	}
}
