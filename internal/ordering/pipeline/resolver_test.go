package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-workers/internal/common/logger"
	"order-workers/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type stubOracle struct {
	res   *OracleResult
	err   error
	calls int
}

func (s *stubOracle) ClassifyAndExtract(_ context.Context, _, _ string) (*OracleResult, error) {
	s.calls++
	return s.res, s.err
}

// blockingOracle waits for its context to end.
type blockingOracle struct{}

func (blockingOracle) ClassifyAndExtract(ctx context.Context, _, _ string) (*OracleResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func catalog() []models.CatalogEntry {
	return []models.CatalogEntry{
		{ID: "agua", Name: "Agua Ciel 1L", Aliases: []string{"agua"}, Active: true},
		{ID: "pepsi", Name: "Pepsi 600ml", Aliases: []string{"pepsi"}, Keywords: []string{"refresco"}, Active: true},
		{ID: "coca", Name: "Coca-Cola 600ml", Aliases: []string{"coca"}, Keywords: []string{"refresco"}, Active: true},
	}
}

func message(text string) models.Message {
	return models.Message{
		ID:             "msg-1",
		Text:           text,
		ConversationID: "conv-1",
		CustomerID:     "cust-1",
		ReceivedAt:     now,
	}
}

func newResolver(t *testing.T, opts ...Option) *Resolver {
	fixed := func() time.Time { return now }
	base := []Option{WithClock(fixed), WithLogger(logger.NewTestLogger(t))}
	return NewResolver(append(base, opts...)...)
}

func TestResolve_CreatesOrderWhenEverythingMatches(t *testing.T) {
	oracle := &stubOracle{res: &OracleResult{
		IntentLabel:      "purchase",
		IntentConfidence: 0.93,
		Products:         []models.ProductProposal{{Name: "agua", Quantity: 2, Confidence: 0.9}},
		DeliveryDate:     "2026-03-15",
	}}
	r := newResolver(t, WithOracle(oracle))

	res, err := r.Resolve(context.Background(), message("mándame 2 aguas para mañana"), catalog(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.IntentBuy, res.Analysis.Intent.Kind)
	require.Len(t, res.Analysis.ExtractedProducts, 1)
	p := res.Analysis.ExtractedProducts[0]
	assert.Equal(t, models.ProductConfirmed, p.Status)
	assert.Equal(t, "agua", p.MatchedCatalogID)
	assert.Equal(t, 2, p.Quantity)
	assert.Equal(t, models.TierHigh, res.Analysis.ConfidenceTier)
	assert.False(t, res.Analysis.RequiresClarification)
	assert.Equal(t, "2026-03-15", res.Analysis.DeliveryDate)

	assert.Equal(t, models.ActionCreateOrder, res.Decision.Action)
	assert.Equal(t, FallbackNone, res.OracleFallback)
	assert.Equal(t, 1, oracle.calls)
}

func TestResolve_RecordsStates(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := newResolver(t, WithTracer(tp.Tracer("test")))
	res, err := r.Resolve(context.Background(), message("2 aguas"), catalog(), nil)
	require.NoError(t, err)

	want := []models.ResolutionState{models.StateReceived, models.StateAnalyzed, models.StateResolved}
	assert.Equal(t, want, res.States)

	var events []string
	for _, s := range recorder.Ended() {
		if s.Name() != "pipeline.Resolve" {
			continue
		}
		for _, e := range s.Events() {
			events = append(events, e.Name)
		}
	}
	assert.Equal(t, []string{"RECEIVED", "ANALYZED", "RESOLVED"}, events)
}

func TestResolve_MergesFollowUpIntoRecentOrder(t *testing.T) {
	oracle := &stubOracle{res: &OracleResult{
		IntentLabel:      "BUY",
		IntentConfidence: 0.9,
		Products:         []models.ProductProposal{{Name: "pepsis", Quantity: 2, Confidence: 0.85}},
	}}
	recent := []models.Order{{
		ID:             "order-1",
		ConversationID: "conv-1",
		CustomerID:     "cust-1",
		Status:         models.OrderPending,
		CreatedAt:      now.Add(-3 * time.Minute),
	}}

	res, err := newResolver(t, WithOracle(oracle)).Resolve(context.Background(), message("2 pepsis"), catalog(), recent)
	require.NoError(t, err)

	assert.True(t, res.Continuation.IsContinuation)
	assert.Equal(t, models.DetectionTemporal, res.Continuation.DetectionMethod)
	assert.Greater(t, res.Continuation.Confidence, 0.5)
	assert.Equal(t, models.ActionMergeIntoOrder, res.Decision.Action)
	assert.Equal(t, "order-1", res.Decision.TargetOrderID)
}

func TestResolve_KeywordOnlyAsksForClarification(t *testing.T) {
	oracle := &stubOracle{res: &OracleResult{IntentLabel: "buy", IntentConfidence: 0.98}}

	res, err := newResolver(t, WithOracle(oracle)).Resolve(context.Background(), message("necesito algunos refrescos"), catalog(), nil)
	require.NoError(t, err)

	require.Len(t, res.Analysis.ExtractedProducts, 1)
	p := res.Analysis.ExtractedProducts[0]
	assert.Equal(t, models.SourceHeuristic, p.Source)
	assert.Equal(t, models.ProductClarifying, p.Status)
	assert.True(t, p.ClarificationAsked)

	assert.True(t, res.Analysis.RequiresClarification)
	assert.NotEmpty(t, res.Analysis.SuggestedQuestion)
	assert.Equal(t, models.TierMedium, res.Analysis.ConfidenceTier)
	assert.Equal(t, models.ActionAskClarification, res.Decision.Action)
	assert.Equal(t, res.Analysis.SuggestedQuestion, res.Decision.Question)
	assert.Equal(t, FallbackNoProducts, res.OracleFallback)
}

func TestResolve_OracleTimeoutFallsBackToHeuristics(t *testing.T) {
	r := newResolver(t, WithOracle(blockingOracle{}), WithOracleTimeout(20*time.Millisecond))

	res, err := r.Resolve(context.Background(), message("2 aguas"), catalog(), nil)
	require.NoError(t, err)

	assert.Equal(t, FallbackTimeout, res.OracleFallback)
	assert.Equal(t, models.IntentOther, res.Analysis.Intent.Kind)
	assert.Equal(t, 0.0, res.Analysis.Intent.Confidence)
	require.Len(t, res.Analysis.ExtractedProducts, 1)
	assert.Equal(t, "agua", res.Analysis.ExtractedProducts[0].MatchedCatalogID)
	assert.Equal(t, models.ActionNoAction, res.Decision.Action)
}

func TestResolve_OracleErrorAndNoOracle(t *testing.T) {
	res, err := newResolver(t, WithOracle(&stubOracle{err: errors.New("502")})).
		Resolve(context.Background(), message("2 aguas"), catalog(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackUnavailable, res.OracleFallback)

	res, err = newResolver(t, WithOracle(&stubOracle{})).
		Resolve(context.Background(), message("2 aguas"), catalog(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackUnavailable, res.OracleFallback)

	res, err = newResolver(t).Resolve(context.Background(), message("2 aguas"), catalog(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackDisabled, res.OracleFallback)
	assert.Len(t, res.Analysis.ExtractedProducts, 1)
}

func TestResolve_NonPurchaseSkipsContinuation(t *testing.T) {
	oracle := &stubOracle{res: &OracleResult{IntentLabel: "question", IntentConfidence: 0.9}}
	recent := []models.Order{{ID: "order-1", ConversationID: "conv-1", Status: models.OrderPending, CreatedAt: now.Add(-time.Minute)}}

	res, err := newResolver(t, WithOracle(oracle)).Resolve(context.Background(), message("¿a qué hora abren?"), catalog(), recent)
	require.NoError(t, err)

	assert.Empty(t, res.Analysis.ExtractedProducts)
	assert.False(t, res.Analysis.RequiresClarification)
	assert.Equal(t, models.TierNone, res.Analysis.ConfidenceTier)
	assert.False(t, res.Continuation.IsContinuation)
	assert.Equal(t, models.ActionNoAction, res.Decision.Action)
}

func TestResolve_BelowThreshold(t *testing.T) {
	oracle := &stubOracle{res: &OracleResult{
		IntentLabel:      "buy",
		IntentConfidence: 0.75,
		Products:         []models.ProductProposal{{Name: "agua", Quantity: 1, Confidence: 0.9}},
	}}

	res, err := newResolver(t, WithOracle(oracle), WithThreshold(0.8)).
		Resolve(context.Background(), message("agua"), catalog(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.8, newResolver(t, WithThreshold(0.8)).Threshold())
	assert.Equal(t, models.ActionNoAction, res.Decision.Action)
}

func TestResolve_IsDeterministic(t *testing.T) {
	oracle := &stubOracle{res: &OracleResult{
		IntentLabel:      "buy",
		IntentConfidence: 0.9,
		Products: []models.ProductProposal{
			{Name: "agua", Quantity: 2, Confidence: 0.9},
			{Name: "refresco", Quantity: 1, Confidence: 0.8},
		},
	}}
	recent := []models.Order{{ID: "order-1", ConversationID: "conv-1", Status: models.OrderPending, CreatedAt: now.Add(-2 * time.Minute)}}
	r := newResolver(t, WithOracle(oracle))

	first, err := r.Resolve(context.Background(), message("2 aguas y un refresco"), catalog(), recent)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), message("2 aguas y un refresco"), catalog(), recent)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("resolution changed on run %d (-first +again):\n%s", i, diff)
		}
	}
}

func TestResolve_InvalidInput(t *testing.T) {
	r := newResolver(t)

	tests := map[string]models.Message{
		"missing id":           {Text: "agua", ConversationID: "c"},
		"blank text":           {ID: "m", Text: "   ", ConversationID: "c"},
		"missing conversation": {ID: "m", Text: "agua"},
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), msg, catalog(), nil)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestResolve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := &stubOracle{res: &OracleResult{IntentLabel: "buy", IntentConfidence: 0.9}}
	res, err := newResolver(t, WithOracle(oracle)).Resolve(ctx, message("2 aguas"), catalog(), nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}
