package resolveordermessage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/lock"
	"order-workers/internal/common/logger"
	"order-workers/internal/models"
	"order-workers/internal/ordering/pipeline"
	"order-workers/internal/store/catalog"
	"order-workers/internal/store/orders"
)

// ==========================
// Test Helpers
// ==========================

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type stubOracle struct {
	res *pipeline.OracleResult
	err error
}

func (s *stubOracle) ClassifyAndExtract(context.Context, string, string) (*pipeline.OracleResult, error) {
	return s.res, s.err
}

func buyAgua() *stubOracle {
	return &stubOracle{res: &pipeline.OracleResult{
		IntentLabel:      "BUY",
		IntentConfidence: 0.93,
		Products:         []models.ProductProposal{{Name: "agua", Quantity: 2, Confidence: 0.9}},
		DeliveryDate:     "2026-03-15",
	}}
}

func testCatalog() catalog.Static {
	return catalog.Static{
		{ID: "agua", Name: "Agua Ciel 1L", Aliases: []string{"agua"}, Active: true},
		{ID: "pepsi", Name: "Pepsi 600ml", Aliases: []string{"pepsi"}, Keywords: []string{"refresco"}, Active: true},
	}
}

type fakeOrderStore struct {
	mu        sync.Mutex
	recent    []models.Order
	recentErr error
	since     time.Time
	commits   []orders.CommitRequest
	commitErr error
	result    *orders.CommitResult
	inCommit  int32
	overlap   atomic.Bool
	delay     time.Duration
}

func (s *fakeOrderStore) RecentOrders(_ context.Context, _ string, since time.Time) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = since
	return s.recent, s.recentErr
}

func (s *fakeOrderStore) Commit(_ context.Context, req orders.CommitRequest) (*orders.CommitResult, error) {
	if atomic.AddInt32(&s.inCommit, 1) > 1 {
		s.overlap.Store(true)
	}
	defer atomic.AddInt32(&s.inCommit, -1)
	time.Sleep(s.delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	s.commits = append(s.commits, req)
	if s.result != nil {
		return s.result, nil
	}
	return &orders.CommitResult{OrderID: fmt.Sprintf("ord-%d", len(s.commits)), Action: req.Action}, nil
}

func (s *fakeOrderStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commits)
}

type failingSource struct{ err error }

func (f failingSource) Load(context.Context) ([]models.CatalogEntry, error) { return nil, f.err }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, e models.OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, e)
	return fmt.Sprintf("evt-%d", len(p.events)), nil
}

type lockerFunc func(ctx context.Context, key string) (lock.Release, error)

func (f lockerFunc) Acquire(ctx context.Context, key string) (lock.Release, error) {
	return f(ctx, key)
}

// resolverFunc lets a test intervene between resolution and commit.
type resolverFunc func(ctx context.Context, msg models.Message, entries []models.CatalogEntry, recent []models.Order) (*pipeline.Resolution, error)

func (f resolverFunc) Resolve(ctx context.Context, msg models.Message, entries []models.CatalogEntry, recent []models.Order) (*pipeline.Resolution, error) {
	return f(ctx, msg, entries, recent)
}

type fixture struct {
	store     *fakeOrderStore
	publisher *recordingPublisher
	opts      HandlerOptions
}

func newFixture(t *testing.T, oracle pipeline.Oracle) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	f := &fixture{store: &fakeOrderStore{}, publisher: &recordingPublisher{}}
	f.opts = HandlerOptions{
		Config: &Config{Timeout: 5 * time.Second, ContinuationWindow: 10 * time.Minute, CompleteRetry: LoadConfig(nil).CompleteRetry},
		Resolver: pipeline.NewResolver(
			pipeline.WithOracle(oracle),
			pipeline.WithClock(clock),
			pipeline.WithLogger(logger.NewTestLogger(t)),
		),
		Catalog:   testCatalog(),
		Orders:    f.store,
		Locker:    lock.NewKeyedMutex(time.Second),
		Publisher: f.publisher,
		Logger:    logger.NewTestLogger(t),
		Clock:     clock,
	}
	return f
}

func (f *fixture) handler(t *testing.T) *Handler {
	t.Helper()
	h, err := NewHandler(f.opts)
	require.NoError(t, err)
	return h
}

func validInput() *Input {
	received := now
	return &Input{
		MessageID:      "wamid.1",
		Text:           "mándame 2 aguas para mañana",
		ConversationID: "conv-1",
		CustomerID:     "cust-1",
		ReceivedAt:     &received,
	}
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, code), "want %s, got %v", code, err)
}

// ==========================
// Execute
// ==========================

func TestExecute_CreatesOrder(t *testing.T) {
	f := newFixture(t, buyAgua())

	out, err := f.handler(t).Execute(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, models.ActionCreateOrder, out.Action)
	assert.Equal(t, "ord-1", out.OrderID)
	assert.Equal(t, "evt-1", out.EventID)
	assert.Equal(t, models.IntentBuy, out.Intent)
	assert.Equal(t, models.TierHigh, out.ConfidenceTier)
	assert.False(t, out.Duplicate)

	require.Len(t, f.store.commits, 1)
	req := f.store.commits[0]
	assert.Equal(t, "wamid.1", req.MessageID)
	assert.Equal(t, "cust-1", req.CustomerID)
	assert.Equal(t, "2026-03-15", req.DeliveryDate)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "agua", req.Items[0].CatalogID)
	assert.Equal(t, "Agua Ciel 1L", req.Items[0].CatalogName)
	assert.Equal(t, 2, req.Items[0].Quantity)
	assert.Equal(t, now.Add(-10*time.Minute), f.store.since)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, models.OrderCreatedEvent, f.publisher.events[0].Type)
	assert.Equal(t, "ord-1", f.publisher.events[0].OrderID)
}

func TestExecute_MergesIntoRecentOrder(t *testing.T) {
	f := newFixture(t, &stubOracle{res: &pipeline.OracleResult{
		IntentLabel:      "BUY",
		IntentConfidence: 0.9,
		Products:         []models.ProductProposal{{Name: "pepsis", Quantity: 2, Confidence: 0.85}},
	}})
	f.store.recent = []models.Order{{
		ID:             "order-7",
		ConversationID: "conv-1",
		Status:         models.OrderPending,
		CreatedAt:      now.Add(-3 * time.Minute),
	}}
	f.store.result = &orders.CommitResult{OrderID: "order-7", Action: models.ActionMergeIntoOrder}

	in := validInput()
	in.Text = "2 pepsis"
	out, err := f.handler(t).Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, models.ActionMergeIntoOrder, out.Action)
	assert.Equal(t, "order-7", out.OrderID)
	assert.True(t, out.Continuation.IsContinuation)
	require.Len(t, f.store.commits, 1)
	assert.Equal(t, "order-7", f.store.commits[0].TargetOrderID)
	assert.Equal(t, models.OrderMergedEvent, f.publisher.events[0].Type)
}

func TestExecute_MergeTargetClosedReportsCreate(t *testing.T) {
	f := newFixture(t, &stubOracle{res: &pipeline.OracleResult{
		IntentLabel:      "BUY",
		IntentConfidence: 0.9,
		Products:         []models.ProductProposal{{Name: "pepsis", Quantity: 2, Confidence: 0.85}},
	}})
	f.store.recent = []models.Order{{ID: "order-7", ConversationID: "conv-1", Status: models.OrderPending, CreatedAt: now.Add(-3 * time.Minute)}}
	f.store.result = &orders.CommitResult{OrderID: "ord-new", Action: models.ActionCreateOrder}

	in := validInput()
	in.Text = "2 pepsis"
	out, err := f.handler(t).Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, models.ActionCreateOrder, out.Action)
	assert.Equal(t, "ord-new", out.OrderID)
	assert.Contains(t, out.Reasoning, "order-7 closed")
	assert.Equal(t, models.OrderCreatedEvent, f.publisher.events[0].Type)
}

func TestExecute_NonBuyDoesNotCommit(t *testing.T) {
	f := newFixture(t, &stubOracle{res: &pipeline.OracleResult{IntentLabel: "question", IntentConfidence: 0.9}})

	in := validInput()
	in.Text = "¿a qué hora abren?"
	out, err := f.handler(t).Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, models.ActionNoAction, out.Action)
	assert.Empty(t, out.OrderID)
	assert.NotNil(t, out.Products)
	assert.Zero(t, f.store.commitCount())
	assert.Empty(t, f.publisher.events)
}

func TestExecute_DuplicateCompletesAsNoOp(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.store.commitErr = fmt.Errorf("%w: wamid.1", orders.ErrDuplicateMessage)

	out, err := f.handler(t).Execute(context.Background(), validInput())
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.Empty(t, out.OrderID)
	assert.Empty(t, f.publisher.events)
}

func TestExecute_CommitFailure(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.store.commitErr = errors.New("connection reset by peer")

	_, err := f.handler(t).Execute(context.Background(), validInput())
	requireCode(t, err, apperrors.ErrCodeOrderCommitFailed)
	assert.Empty(t, f.publisher.events)
}

func TestExecute_CatalogFailureFailsJob(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.opts.Catalog = failingSource{err: catalog.ErrCatalogUnavailable}

	_, err := f.handler(t).Execute(context.Background(), validInput())
	requireCode(t, err, apperrors.ErrCodeCatalogLoadFailed)
	assert.Zero(t, f.store.commitCount())
}

func TestExecute_RecentOrdersFailureDegrades(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.store.recentErr = errors.New("timeout reading orders")

	out, err := f.handler(t).Execute(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, models.ActionCreateOrder, out.Action)
	assert.False(t, out.Continuation.IsContinuation)
}

func TestExecute_LockTimeout(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.opts.Locker = lockerFunc(func(context.Context, string) (lock.Release, error) {
		return nil, lock.ErrLockTimeout
	})

	_, err := f.handler(t).Execute(context.Background(), validInput())
	requireCode(t, err, apperrors.ErrCodeLockTimeout)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Zero(t, f.store.commitCount())
}

func TestExecute_LockReleasedOnError(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.store.commitErr = errors.New("boom")
	var released int32
	f.opts.Locker = lockerFunc(func(_ context.Context, key string) (lock.Release, error) {
		assert.Equal(t, "conversation:conv-1", key)
		return func(context.Context) error {
			atomic.AddInt32(&released, 1)
			return nil
		}, nil
	})

	_, err := f.handler(t).Execute(context.Background(), validInput())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&released))
}

func TestExecute_CancelledBeforeCommitWritesNothing(t *testing.T) {
	f := newFixture(t, buyAgua())
	base := f.opts.Resolver
	ctx, cancel := context.WithCancel(context.Background())
	f.opts.Resolver = resolverFunc(func(rctx context.Context, msg models.Message, entries []models.CatalogEntry, recent []models.Order) (*pipeline.Resolution, error) {
		res, err := base.Resolve(rctx, msg, entries, recent)
		cancel()
		return res, err
	})

	_, err := f.handler(t).Execute(ctx, validInput())
	requireCode(t, err, apperrors.ErrCodeInternal)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.store.commitCount())
	assert.Empty(t, f.publisher.events)
}

func TestExecute_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.publisher.err = errors.New("sns throttled")

	out, err := f.handler(t).Execute(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "ord-1", out.OrderID)
	assert.Empty(t, out.EventID)
}

func TestExecute_SameConversationIsSerialized(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.store.delay = 20 * time.Millisecond
	h := f.handler(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := validInput()
			in.MessageID = fmt.Sprintf("wamid.%d", i)
			_, err := h.Execute(context.Background(), in)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, f.store.commitCount())
	assert.False(t, f.store.overlap.Load(), "commits for one conversation overlapped")
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.opts.Orders = nil
	_, err := NewHandler(f.opts)
	assert.Error(t, err)
}

// ==========================
// Handle
// ==========================

type fakeGateway struct {
	pb.GatewayClient

	mu        sync.Mutex
	completed []*pb.CompleteJobRequest
	failed    []*pb.FailJobRequest
	thrown    []*pb.ThrowErrorRequest
}

func (g *fakeGateway) CompleteJob(_ context.Context, in *pb.CompleteJobRequest, _ ...grpc.CallOption) (*pb.CompleteJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = append(g.completed, in)
	return &pb.CompleteJobResponse{}, nil
}

func (g *fakeGateway) FailJob(_ context.Context, in *pb.FailJobRequest, _ ...grpc.CallOption) (*pb.FailJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = append(g.failed, in)
	return &pb.FailJobResponse{}, nil
}

func (g *fakeGateway) ThrowError(_ context.Context, in *pb.ThrowErrorRequest, _ ...grpc.CallOption) (*pb.ThrowErrorResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.thrown = append(g.thrown, in)
	return &pb.ThrowErrorResponse{}, nil
}

func noRetry(context.Context, error) bool { return false }

type fakeJobClient struct{ gw *fakeGateway }

func (c fakeJobClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	return commands.NewCompleteJobCommand(c.gw, noRetry)
}

func (c fakeJobClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	return commands.NewFailJobCommand(c.gw, noRetry)
}

func (c fakeJobClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	return commands.NewThrowErrorCommand(c.gw, noRetry)
}

func job(variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                42,
		Type:               TaskType,
		ProcessInstanceKey: 7,
		Retries:            3,
		Variables:          variables,
	}}
}

func TestHandle_CompletesJob(t *testing.T) {
	f := newFixture(t, buyAgua())
	gw := &fakeGateway{}

	f.handler(t).Handle(fakeJobClient{gw}, job(`{
		"messageId": "wamid.1",
		"text": "mándame 2 aguas para mañana",
		"conversationId": "conv-1",
		"receivedAt": "2026-03-14T12:00:00Z"
	}`))

	require.Len(t, gw.completed, 1)
	assert.Equal(t, int64(42), gw.completed[0].JobKey)
	assert.Contains(t, gw.completed[0].Variables, `"action":"CREATE_ORDER"`)
	assert.Contains(t, gw.completed[0].Variables, `"orderId":"ord-1"`)
	assert.Empty(t, gw.failed)
	assert.Empty(t, gw.thrown)
}

func TestHandle_InvalidInputThrowsError(t *testing.T) {
	f := newFixture(t, buyAgua())
	gw := &fakeGateway{}

	f.handler(t).Handle(fakeJobClient{gw}, job(`{"messageId": "wamid.1", "text": "hola"}`))

	require.Len(t, gw.thrown, 1)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), gw.thrown[0].ErrorCode)
	assert.Empty(t, gw.completed)
	assert.Zero(t, f.store.commitCount())
}

func TestHandle_LockTimeoutFailsWithRetries(t *testing.T) {
	f := newFixture(t, buyAgua())
	f.opts.Locker = lockerFunc(func(context.Context, string) (lock.Release, error) {
		return nil, lock.ErrLockTimeout
	})
	gw := &fakeGateway{}

	f.handler(t).Handle(fakeJobClient{gw}, job(`{"messageId": "wamid.1", "text": "2 aguas", "conversationId": "conv-1"}`))

	require.Len(t, gw.failed, 1)
	assert.Equal(t, int32(2), gw.failed[0].Retries)
	assert.Contains(t, gw.failed[0].Variables, `"errorCode":"LOCK_TIMEOUT"`)
	assert.Empty(t, gw.completed)
}
