package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/internal/generation"
	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

type stubInvoker struct {
	mu       sync.Mutex
	requests []generation.Request
	policies []generation.Policy
	invokeFn func(ctx context.Context, req generation.Request) generation.Outcome
}

func (s *stubInvoker) Invoke(ctx context.Context, req generation.Request, _ time.Duration, policy generation.Policy) generation.Outcome {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.policies = append(s.policies, policy)
	s.mu.Unlock()
	return s.invokeFn(ctx, req)
}

func (s *stubInvoker) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubMarker struct {
	mu     sync.Mutex
	marked []uuid.UUID
}

func (s *stubMarker) MarkRecoverable(_ context.Context, orderID uuid.UUID, _ error) {
	s.mu.Lock()
	s.marked = append(s.marked, orderID)
	s.mu.Unlock()
}

func (s *stubMarker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marked)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notifications.Event) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []enums.OutboxEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]enums.OutboxEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type stubLocker struct {
	ok       bool
	err      error
	released int
}

func (l *stubLocker) Acquire(context.Context, string, uuid.UUID, time.Duration) (func(context.Context), bool, error) {
	if l.err != nil || !l.ok {
		return nil, l.ok, l.err
	}
	return func(context.Context) { l.released++ }, true, nil
}

func lyricsSuccess(_ context.Context, req generation.Request) generation.Outcome {
	if req.Kind == enums.GenerationKindStylePrompt {
		return generation.Outcome{
			Status:   enums.GenerationOutcomeSuccess,
			Response: &generation.Response{StylePrompt: "mpb, violão, voz feminina suave"},
			Attempts: 1,
		}
	}
	return generation.Outcome{
		Status: enums.GenerationOutcomeSuccess,
		Response: &generation.Response{Lyrics: []generation.LyricOption{
			{Title: "Mar de Marina", Content: "primeira opção"},
			{Title: "Marina", Content: "segunda opção"},
		}},
		Attempts: 1,
	}
}

type harness struct {
	orch     *Orchestrator
	store    orders.Store
	conn     *gorm.DB
	invoker  *stubInvoker
	marker   *stubMarker
	notifier *recordingNotifier
}

func newHarness(t *testing.T, invoke func(context.Context, generation.Request) generation.Outcome, locker Locker) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	store, err := orders.NewService(orders.NewRepository(conn), client)
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	h := &harness{
		store:    store,
		conn:     conn,
		invoker:  &stubInvoker{invokeFn: invoke},
		marker:   &stubMarker{},
		notifier: &recordingNotifier{},
	}
	h.orch, err = New(Params{
		Orders:   store,
		Gateway:  h.invoker,
		Recovery: h.marker,
		Notifier: h.notifier,
		Locker:   locker,
		Config: config.OrchestratorConfig{
			DetailedDeadline:  time.Second,
			QuickDeadline:     time.Second,
			ApprovalLockTTL:   time.Minute,
			DefaultLanguage:   "pt",
			DefaultVoiceType:  "feminina",
			LyricOptionsCount: 2,
		},
		Generation: config.GenerationConfig{
			LyricsTimeout:       time.Second,
			StylePromptTimeout:  time.Second,
			ApprovalBackoff:     1200 * time.Millisecond,
			OrchestratorBackoff: 2 * time.Second,
			MaxAttempts:         2,
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return h
}

func (h *harness) status(t *testing.T, orderID uuid.UUID) *orders.Snapshot {
	t.Helper()
	snap, err := h.store.GetFreshStatus(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	return snap
}

func paid(status enums.OrderStatus) func(*models.Order) {
	return func(o *models.Order) {
		o.Status = status
		o.PaymentStatus = enums.PaymentStatusPaid
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Params{}); err == nil {
		t.Fatal("expected missing order store error")
	}
	h := newHarness(t, lyricsSuccess, nil)
	if _, err := New(Params{Orders: h.store}); err == nil {
		t.Fatal("expected missing gateway error")
	}
	if _, err := New(Params{Orders: h.store, Gateway: h.invoker}); err == nil {
		t.Fatal("expected missing recovery marker error")
	}
}

func TestProcessQuickMarksPendingBeforeBackgroundGeneration(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req generation.Request) generation.Outcome {
		<-release
		return lyricsSuccess(ctx, req)
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, nil)

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{HonoreeName: "Marina"}, enums.ProcessModeQuick)
	if !res.Success || res.Action != enums.FlowActionDashboard {
		t.Fatalf("unexpected quick result %+v", res)
	}

	snap := h.status(t, order.ID)
	if snap.Status != enums.OrderStatusLyricsPending || snap.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("expected pending and paid before generation finished, got %s/%s", snap.Status, snap.PaymentStatus)
	}

	close(release)
	h.orch.Wait()

	snap = h.status(t, order.ID)
	if snap.Status != enums.OrderStatusLyricsGenerated {
		t.Fatalf("expected lyrics generated, got %s", snap.Status)
	}
	if snap.LyricCount != 2 {
		t.Fatalf("expected 2 lyric rows, got %d", snap.LyricCount)
	}
	if got := h.notifier.types(); len(got) != 1 || got[0] != enums.EventLyricsGenerated {
		t.Fatalf("expected lyrics_generated notification, got %v", got)
	}
	if h.marker.count() != 0 {
		t.Fatalf("successful generation must not mark recoverable")
	}
}

func TestProcessQuickBackgroundFailureMarksRecoverable(t *testing.T) {
	h := newHarness(t, func(context.Context, generation.Request) generation.Outcome {
		return generation.Outcome{Status: enums.GenerationOutcomeFatal, Err: errors.New("content policy"), Attempts: 1}
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeQuick)
	if !res.Success {
		t.Fatalf("quick mode reports submitted even when generation later fails, got %+v", res)
	}
	h.orch.Wait()

	if h.marker.count() != 1 {
		t.Fatalf("expected order marked recoverable once, got %d", h.marker.count())
	}
	stuck, err := h.store.IsStuck(context.Background(), order.ID)
	if err != nil || !stuck {
		t.Fatalf("expected order stuck after failed background generation, stuck=%v err=%v", stuck, err)
	}
}

func TestProcessQuickBackgroundPanicMarksRecoverable(t *testing.T) {
	h := newHarness(t, func(context.Context, generation.Request) generation.Outcome {
		panic("provider exploded")
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeQuick)
	h.orch.Wait()

	if h.marker.count() != 1 {
		t.Fatalf("expected panic to mark order recoverable, got %d", h.marker.count())
	}
	if got := h.status(t, order.ID).Status; got != enums.OrderStatusLyricsPending {
		t.Fatalf("expected LYRICS_PENDING after panic, got %s", got)
	}
}

func TestProcessDetailedSuccess(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{HonoreeName: "Marina"}, enums.ProcessModeDetailed)
	if !res.Success || res.Action != enums.FlowActionCreateSong {
		t.Fatalf("unexpected detailed result %+v", res)
	}
	if len(res.LyricIDs) != 2 {
		t.Fatalf("expected 2 lyric ids, got %v", res.LyricIDs)
	}
	if got := h.status(t, order.ID).Status; got != enums.OrderStatusLyricsGenerated {
		t.Fatalf("expected LYRICS_GENERATED, got %s", got)
	}
	policy := h.invoker.policies[0]
	if policy.MaxAttempts != 2 || policy.Backoff != 2*time.Second {
		t.Fatalf("detailed mode should use the orchestrator policy, got %+v", policy)
	}
	if h.invoker.requests[0].Options != 2 {
		t.Fatalf("expected 2 lyric options requested, got %d", h.invoker.requests[0].Options)
	}
}

func TestProcessDetailedTimeoutLeavesOrderStuck(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, _ generation.Request) generation.Outcome {
		return generation.Outcome{Status: enums.GenerationOutcomeTransient, Err: context.DeadlineExceeded, Attempts: 2}
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	if res.Success || res.Action != enums.FlowActionDashboard {
		t.Fatalf("expected dashboard failure, got %+v", res)
	}
	if res.ErrorCode != pkgerrors.CodeGenerationTransient {
		t.Fatalf("expected transient code, got %s", res.ErrorCode)
	}
	if got := h.status(t, order.ID).Status; got != enums.OrderStatusLyricsPending {
		t.Fatalf("expected LYRICS_PENDING, got %s", got)
	}
	stuck, err := h.store.IsStuck(context.Background(), order.ID)
	if err != nil || !stuck {
		t.Fatalf("expected stuck order, stuck=%v err=%v", stuck, err)
	}
	if h.marker.count() != 1 {
		t.Fatalf("expected order marked recoverable")
	}
}

func TestProcessDetailedRequiresPayment(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	order := dbtest.SeedOrder(t, h.conn, nil)

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	if res.Success || res.ErrorCode != pkgerrors.CodeInvariantViolation {
		t.Fatalf("expected invariant violation for unpaid order, got %+v", res)
	}
	if h.invoker.calls() != 0 {
		t.Fatalf("gateway must not be called for unpaid orders")
	}
}

func TestProcessDetailedSurfacesMissingPronunciations(t *testing.T) {
	h := newHarness(t, func(context.Context, generation.Request) generation.Outcome {
		return generation.Outcome{
			Status:                enums.GenerationOutcomeMissingPronunciation,
			Err:                   &generation.ProviderError{MissingPronunciations: []string{"Thaís"}},
			MissingPronunciations: []string{"Thaís"},
			Attempts:              1,
		}
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	if res.ErrorCode != pkgerrors.CodeMissingPronunciation {
		t.Fatalf("expected missing pronunciation code, got %+v", res)
	}
	if len(res.MissingPronunciations) != 1 || res.MissingPronunciations[0] != "Thaís" {
		t.Fatalf("expected missing terms surfaced, got %v", res.MissingPronunciations)
	}
}

func TestProcessAlreadyGeneratedIsNoop(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusLyricsGenerated))

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeQuick)
	if !res.Success || !res.AlreadyProcessed || res.Action != enums.FlowActionCreateSong {
		t.Fatalf("expected alreadyProcessed create-song, got %+v", res)
	}
	h.orch.Wait()
	if h.invoker.calls() != 0 {
		t.Fatalf("gateway must not be called again")
	}
}

func TestProcessInstrumentalSkipsLyrics(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	order := dbtest.SeedOrder(t, h.conn, func(o *models.Order) {
		paid(enums.OrderStatusPaid)(o)
		o.IsInstrumental = true
	})

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	if !res.Success || res.Action != enums.FlowActionDashboard {
		t.Fatalf("unexpected instrumental result %+v", res)
	}
	if h.invoker.requests[0].Kind != enums.GenerationKindStylePrompt {
		t.Fatalf("instrumental orders only need a style prompt, got %s", h.invoker.requests[0].Kind)
	}
	stored, err := h.store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != enums.OrderStatusLyricsApproved || stored.StylePrompt == nil || *stored.StylePrompt == "" {
		t.Fatalf("expected approved instrumental with style prompt, got %s %v", stored.Status, stored.StylePrompt)
	}
	if stored.ApprovedLyricID != nil {
		t.Fatalf("instrumental orders carry no approved lyric")
	}
}

func TestProcessInstrumentalFailureStillReportsSuccess(t *testing.T) {
	h := newHarness(t, func(context.Context, generation.Request) generation.Outcome {
		return generation.Outcome{Status: enums.GenerationOutcomeFatal, Err: errors.New("bad request")}
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, func(o *models.Order) {
		paid(enums.OrderStatusPaid)(o)
		o.IsInstrumental = true
	})

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeQuick)
	if !res.Success || res.Action != enums.FlowActionDashboard {
		t.Fatalf("instrumental failures are non-fatal, got %+v", res)
	}
	if got := h.status(t, order.ID).Status; got != enums.OrderStatusPaid {
		t.Fatalf("expected status untouched, got %s", got)
	}
}

func TestProcessUnknownOrder(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	res := h.orch.Process(context.Background(), uuid.New(), generation.Briefing{}, enums.ProcessModeDetailed)
	if res.Success || res.ErrorCode != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
}

func TestProcessDetailedConcurrentCallsGenerateOnce(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req generation.Request) generation.Outcome {
		<-release
		return lyricsSuccess(ctx, req)
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	first := make(chan Result, 1)
	go func() {
		first <- h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.invoker.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first call never reached the gateway")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	if second.Success || second.ErrorCode != pkgerrors.CodeActionInProgress {
		t.Fatalf("expected action in progress for the duplicate call, got %+v", second)
	}

	close(release)
	res := <-first
	if !res.Success || res.Action != enums.FlowActionCreateSong || len(res.LyricIDs) != 2 {
		t.Fatalf("unexpected first result %+v", res)
	}
	if h.invoker.calls() != 1 {
		t.Fatalf("expected one generation, got %d", h.invoker.calls())
	}

	third := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	if !third.Success || !third.AlreadyProcessed || third.Action != enums.FlowActionCreateSong {
		t.Fatalf("expected alreadyProcessed after generation landed, got %+v", third)
	}
}

func TestProcessDetailedDuringQuickGenerationReportsInProgress(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req generation.Request) generation.Outcome {
		<-release
		return lyricsSuccess(ctx, req)
	}, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeQuick)
	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	close(release)
	h.orch.Wait()

	if res.Success || res.ErrorCode != pkgerrors.CodeActionInProgress {
		t.Fatalf("expected action in progress while quick generation runs, got %+v", res)
	}
	if h.invoker.calls() != 1 {
		t.Fatalf("expected one generation, got %d", h.invoker.calls())
	}
}

func TestProcessDetailedLosingSaveReportsAlreadyProcessed(t *testing.T) {
	var h *harness
	var orderID uuid.UUID
	h = newHarness(t, func(ctx context.Context, req generation.Request) generation.Outcome {
		// another writer lands its lyrics while this call is at the provider
		if _, err := h.store.SaveGeneratedLyrics(ctx, orderID, []orders.LyricDraft{{Content: "outra versão"}}); err != nil {
			t.Errorf("concurrent save: %v", err)
		}
		return lyricsSuccess(ctx, req)
	}, nil)
	orderID = dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid)).ID

	res := h.orch.Process(context.Background(), orderID, generation.Briefing{}, enums.ProcessModeDetailed)
	if !res.Success || !res.AlreadyProcessed || res.Action != enums.FlowActionCreateSong {
		t.Fatalf("expected alreadyProcessed create-song, got %+v", res)
	}
	if h.marker.count() != 0 {
		t.Fatalf("a lost save is not a failure")
	}
	if got := h.status(t, orderID).LyricCount; got != 1 {
		t.Fatalf("expected only the first writer's lyric, got %d", got)
	}
}

type failingBegin struct {
	orders.Store
	err error
}

func (f failingBegin) BeginLyrics(context.Context, uuid.UUID, bool) error {
	return f.err
}

func TestProcessMarksRecoverableOnStoreFailure(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))
	h.orch.orders = failingBegin{Store: h.store, err: pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("connection reset"), "mark lyrics pending")}

	res := h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	if res.Success || res.ErrorCode != pkgerrors.CodeInternal {
		t.Fatalf("expected internal failure, got %+v", res)
	}
	if h.marker.count() != 1 {
		t.Fatalf("expected order marked recoverable, got %d", h.marker.count())
	}
	if h.invoker.calls() != 0 {
		t.Fatalf("gateway must not be called when the status write failed")
	}
}

func TestProcessStateErrorsAreNotMarked(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	order := dbtest.SeedOrder(t, h.conn, nil)

	h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)
	h.orch.Process(context.Background(), uuid.New(), generation.Briefing{}, enums.ProcessModeDetailed)

	if h.marker.count() != 0 {
		t.Fatalf("unpaid and unknown orders have nothing to recover, got %d marks", h.marker.count())
	}
}

func TestLyricsGeneratedEventUsesClock(t *testing.T) {
	h := newHarness(t, lyricsSuccess, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time { return fixed }
	order := dbtest.SeedOrder(t, h.conn, paid(enums.OrderStatusPaid))

	h.orch.Process(context.Background(), order.ID, generation.Briefing{}, enums.ProcessModeDetailed)

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if len(h.notifier.events) != 1 {
		t.Fatalf("expected one notification, got %d", len(h.notifier.events))
	}
	data, ok := h.notifier.events[0].Data.(payloads.LyricsGeneratedEvent)
	if !ok {
		t.Fatalf("unexpected payload %T", h.notifier.events[0].Data)
	}
	if !data.GeneratedAt.Equal(fixed) {
		t.Fatalf("expected generated_at %s, got %s", fixed, data.GeneratedAt)
	}
}
