// Package orchestrator drives an order from payment through lyric generation
// and approval.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/internal/generation"
	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

const (
	approvalLockScope = "approval"
	markTimeout       = 10 * time.Second
)

// RecoveryMarker flags an order whose generation failed so the stuck scanner
// and manual retry can pick it up.
type RecoveryMarker interface {
	MarkRecoverable(ctx context.Context, orderID uuid.UUID, cause error)
}

// Result is what the client receives after a flow step.
type Result struct {
	Success               bool             `json:"success"`
	Action                enums.FlowAction `json:"action"`
	AlreadyProcessed      bool             `json:"alreadyProcessed,omitempty"`
	Error                 string           `json:"error,omitempty"`
	ErrorCode             pkgerrors.Code   `json:"errorCode,omitempty"`
	MissingPronunciations []string         `json:"missingPronunciations,omitempty"`
	LyricIDs              []uuid.UUID      `json:"lyricIds,omitempty"`
}

// ApproveInput identifies the lyric the customer approved.
type ApproveInput struct {
	OrderID uuid.UUID
	// LyricID is nil only for instrumental orders.
	LyricID      *uuid.UUID
	ApprovedText string
}

// Params wires the orchestrator.
type Params struct {
	Orders     orders.Store
	Gateway    generation.Invoker
	Recovery   RecoveryMarker
	Notifier   notifications.Notifier
	Locker     Locker
	Logger     *logger.Logger
	Config     config.OrchestratorConfig
	Generation config.GenerationConfig
}

// Orchestrator sequences generation for paid orders.
type Orchestrator struct {
	orders   orders.Store
	gateway  generation.Invoker
	recovery RecoveryMarker
	notifier notifications.Notifier
	locker   Locker
	logg     *logger.Logger
	cfg      config.OrchestratorConfig
	gen      config.GenerationConfig
	running  *inflight
	wg       sync.WaitGroup
	now      func() time.Time
}

// New builds the orchestrator. Locker may be nil, in which case approvals are
// only serialized within this process.
func New(p Params) (*Orchestrator, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("generation gateway required")
	}
	if p.Recovery == nil {
		return nil, fmt.Errorf("recovery marker required")
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	cfg := p.Config
	if cfg.LyricOptionsCount <= 0 {
		cfg.LyricOptionsCount = 2
	}
	if cfg.DetailedDeadline <= 0 {
		cfg.DetailedDeadline = 120 * time.Second
	}
	if cfg.QuickDeadline <= 0 {
		cfg.QuickDeadline = 5 * time.Minute
	}
	if cfg.ApprovalLockTTL <= 0 {
		cfg.ApprovalLockTTL = 3 * time.Minute
	}
	gen := p.Generation
	if gen.MaxAttempts <= 0 {
		gen.MaxAttempts = 2
	}
	return &Orchestrator{
		orders:   p.Orders,
		gateway:  p.Gateway,
		recovery: p.Recovery,
		notifier: notifier,
		locker:   p.Locker,
		logg:     p.Logger,
		cfg:      cfg,
		gen:      gen,
		running:  newInflight(),
		now:      time.Now,
	}, nil
}

// Wait blocks until background generation started by quick mode has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Process starts lyric generation for a paid order. Instrumental orders skip
// lyrics and go straight to the style prompt.
func (o *Orchestrator) Process(ctx context.Context, orderID uuid.UUID, briefing generation.Briefing, mode enums.ProcessMode) (res Result) {
	ctx = o.withOrder(ctx, orderID)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("process panic: %v", r)
			o.logError(ctx, "order processing panicked", err)
			o.markRecoverable(orderID, err)
			res = Failure(pkgerrors.New(pkgerrors.CodeInternal, "unexpected error, order will be retried"))
		}
	}()

	snap, err := o.orders.GetFreshStatus(ctx, orderID)
	if err != nil {
		o.markIfUnexpected(ctx, orderID, err)
		return Failure(err)
	}
	if snap.IsInstrumental || briefing.IsInstrumental {
		briefing.IsInstrumental = true
		return o.processInstrumental(ctx, snap, briefing)
	}
	if snap.Status.AtOrPast(enums.OrderStatusLyricsGenerated) {
		return alreadyProcessed(snap.Status)
	}

	switch mode {
	case enums.ProcessModeQuick:
		return o.processQuick(ctx, snap, briefing)
	default:
		return o.processDetailed(ctx, snap, briefing)
	}
}

func (o *Orchestrator) processInstrumental(ctx context.Context, snap *orders.Snapshot, briefing generation.Briefing) Result {
	if snap.Status.AtOrPast(enums.OrderStatusLyricsApproved) {
		return alreadyProcessed(snap.Status)
	}
	outcome := o.gateway.Invoke(ctx, generation.Request{
		Kind:     enums.GenerationKindStylePrompt,
		Briefing: briefing,
	}, o.gen.StylePromptTimeout, o.orchestratorPolicy())
	if !outcome.OK() {
		o.logError(ctx, "instrumental style prompt failed", outcome.Err)
		return Result{Success: true, Action: enums.FlowActionDashboard}
	}

	err := o.orders.CompleteApproval(ctx, orders.ApprovalInput{
		OrderID:     snap.OrderID,
		StylePrompt: outcome.Response.StylePrompt,
	})
	switch {
	case err == nil:
		o.notifier.Notify(ctx, notifications.Event{
			Type:    enums.EventLyricsApproved,
			OrderID: snap.OrderID,
			UserID:  snap.UserID,
			Data:    payloads.LyricsApprovedEvent{OrderID: snap.OrderID, UserID: snap.UserID, Instrumental: true},
			Once:    true,
		})
	case errors.Is(err, orders.ErrAlreadyAdvanced):
	default:
		o.logError(ctx, "instrumental approval failed", err)
	}
	return Result{Success: true, Action: enums.FlowActionDashboard}
}

func (o *Orchestrator) processQuick(ctx context.Context, snap *orders.Snapshot, briefing generation.Briefing) Result {
	if err := o.orders.BeginLyrics(ctx, snap.OrderID, true); err != nil {
		if errors.Is(err, orders.ErrAlreadyAdvanced) {
			return alreadyProcessed(enums.OrderStatusLyricsGenerated)
		}
		o.markIfUnexpected(ctx, snap.OrderID, err)
		return Failure(err)
	}

	key := lyricsKey(snap.OrderID)
	if !o.running.acquire(key) {
		return Result{Success: true, Action: enums.FlowActionDashboard}
	}
	o.wg.Add(1)
	go o.generateInBackground(key, snap.OrderID, snap.UserID, briefing)

	return Result{Success: true, Action: enums.FlowActionDashboard}
}

// generateInBackground owns its own deadline, detached from the request.
// Every failure path ends in MarkRecoverable.
func (o *Orchestrator) generateInBackground(key string, orderID, userID uuid.UUID, briefing generation.Briefing) {
	defer o.wg.Done()
	defer o.running.release(key)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.QuickDeadline)
	defer cancel()
	ctx = o.withOrder(ctx, orderID)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("background generation panic: %v", r)
			o.logError(ctx, "background generation panicked", err)
			o.markRecoverable(orderID, err)
		}
	}()

	if _, err := o.generateLyrics(ctx, orderID, userID, briefing); err != nil && !errors.Is(err, orders.ErrAlreadyAdvanced) {
		o.logError(ctx, "background generation failed", err)
		o.markRecoverable(orderID, err)
	}
}

// processDetailed shares the lyrics key with quick mode, so one order never has
// two generations in flight in this process.
func (o *Orchestrator) processDetailed(ctx context.Context, snap *orders.Snapshot, briefing generation.Briefing) Result {
	key := lyricsKey(snap.OrderID)
	if !o.running.acquire(key) {
		return o.busyResult(ctx, snap.OrderID)
	}
	defer o.running.release(key)

	if err := o.orders.BeginLyrics(ctx, snap.OrderID, false); err != nil {
		if errors.Is(err, orders.ErrAlreadyAdvanced) {
			return alreadyProcessed(enums.OrderStatusLyricsGenerated)
		}
		o.markIfUnexpected(ctx, snap.OrderID, err)
		return Failure(err)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.DetailedDeadline)
	defer cancel()

	lyricIDs, err := o.generateLyrics(genCtx, snap.OrderID, snap.UserID, briefing)
	if errors.Is(err, orders.ErrAlreadyAdvanced) {
		return alreadyProcessed(enums.OrderStatusLyricsGenerated)
	}
	if err != nil {
		o.logError(ctx, "detailed generation failed", err)
		o.markRecoverable(snap.OrderID, err)
		return Failure(err)
	}
	return Result{Success: true, Action: enums.FlowActionCreateSong, LyricIDs: lyricIDs}
}

// generateLyrics calls the gateway and persists the options. It returns
// orders.ErrAlreadyAdvanced when another generation already landed.
func (o *Orchestrator) generateLyrics(ctx context.Context, orderID, userID uuid.UUID, briefing generation.Briefing) ([]uuid.UUID, error) {
	outcome := o.gateway.Invoke(ctx, generation.Request{
		Kind:     enums.GenerationKindLyrics,
		Briefing: briefing,
		Options:  o.cfg.LyricOptionsCount,
	}, o.gen.LyricsTimeout, o.orchestratorPolicy())
	if !outcome.OK() {
		return nil, outcomeError(outcome)
	}

	drafts := make([]orders.LyricDraft, 0, len(outcome.Response.Lyrics))
	for _, option := range outcome.Response.Lyrics {
		drafts = append(drafts, orders.LyricDraft{Title: option.Title, Content: option.Content})
	}
	saved, err := o.orders.SaveGeneratedLyrics(ctx, orderID, drafts)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(saved))
	for _, lyric := range saved {
		ids = append(ids, lyric.ID)
	}
	o.notifier.Notify(ctx, notifications.Event{
		Type:    enums.EventLyricsGenerated,
		OrderID: orderID,
		UserID:  userID,
		Data: payloads.LyricsGeneratedEvent{
			OrderID:     orderID,
			UserID:      userID,
			LyricIDs:    ids,
			GeneratedAt: o.now().UTC(),
		},
		Once: true,
	})
	return ids, nil
}

func (o *Orchestrator) orchestratorPolicy() generation.Policy {
	return generation.Policy{MaxAttempts: o.gen.MaxAttempts, Backoff: o.gen.OrchestratorBackoff}
}

func (o *Orchestrator) approvalPolicy() generation.Policy {
	return generation.Policy{MaxAttempts: o.gen.MaxAttempts, Backoff: o.gen.ApprovalBackoff}
}

// busyResult answers a caller that found generation already running for the order.
func (o *Orchestrator) busyResult(ctx context.Context, orderID uuid.UUID) Result {
	snap, err := o.orders.GetFreshStatus(ctx, orderID)
	if err == nil && snap.Status.AtOrPast(enums.OrderStatusLyricsGenerated) {
		return alreadyProcessed(snap.Status)
	}
	return inProgress()
}

// markIfUnexpected flags the order after an internal failure. Validation, state
// and lookup errors leave nothing to recover.
func (o *Orchestrator) markIfUnexpected(ctx context.Context, orderID uuid.UUID, err error) {
	if pkgerrors.As(err).Code() != pkgerrors.CodeInternal {
		return
	}
	o.logError(ctx, "order lifecycle read or write failed", err)
	o.markRecoverable(orderID, err)
}

func lyricsKey(orderID uuid.UUID) string {
	return "lyrics:" + orderID.String()
}

// markRecoverable runs on a fresh context because the caller's may already be done.
func (o *Orchestrator) markRecoverable(orderID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()
	o.recovery.MarkRecoverable(o.withOrder(ctx, orderID), orderID, cause)
}

func (o *Orchestrator) withOrder(ctx context.Context, orderID uuid.UUID) context.Context {
	if o.logg == nil {
		return ctx
	}
	return o.logg.WithOrderID(ctx, orderID.String())
}

func (o *Orchestrator) logError(ctx context.Context, msg string, err error) {
	if o.logg != nil {
		o.logg.Error(ctx, msg, err)
	}
}

// outcomeError converts a failed gateway outcome into a coded error.
func outcomeError(outcome generation.Outcome) error {
	switch outcome.Status {
	case enums.GenerationOutcomeMissingPronunciation:
		return pkgerrors.Wrap(pkgerrors.CodeMissingPronunciation, outcome.Err, "pronunciation needed").
			WithDetails(map[string]any{"missingPronunciations": outcome.MissingPronunciations})
	case enums.GenerationOutcomeTransient:
		return pkgerrors.Wrap(pkgerrors.CodeGenerationTransient, outcome.Err, outcome.ErrorMessage())
	default:
		return pkgerrors.Wrap(pkgerrors.CodeGenerationFailed, outcome.Err, outcome.ErrorMessage())
	}
}

// Failure renders err as a dashboard-retry result for the client.
func Failure(err error) Result {
	res := Result{Success: false, Action: enums.FlowActionDashboard, ErrorCode: pkgerrors.CodeInternal}
	if err == nil {
		return res
	}
	res.Error = err.Error()
	if typed := pkgerrors.As(err); typed != nil {
		res.ErrorCode = typed.Code()
		res.Error = typed.Message()
		if details, ok := typed.Details().(map[string]any); ok {
			if missing, ok := details["missingPronunciations"].([]string); ok {
				res.MissingPronunciations = missing
			}
		}
	}
	return res
}

func alreadyProcessed(status enums.OrderStatus) Result {
	action := enums.FlowActionDashboard
	if status == enums.OrderStatusLyricsGenerated {
		action = enums.FlowActionCreateSong
	}
	return Result{Success: true, Action: action, AlreadyProcessed: true}
}
