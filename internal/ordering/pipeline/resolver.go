// Package pipeline runs one chat message through intent normalization,
// extraction, catalog matching, continuation detection and the decision
// machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-workers/internal/common/logger"
	"order-workers/internal/models"
	"order-workers/internal/ordering/continuation"
	"order-workers/internal/ordering/decision"
	"order-workers/internal/ordering/extractor"
	"order-workers/internal/ordering/intent"
	"order-workers/internal/ordering/matcher"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultOracleTimeout = 8 * time.Second

	tracerName = "order-workers/pipeline"
)

// Oracle fallback reasons.
const (
	FallbackNone        = ""
	FallbackDisabled    = "disabled"
	FallbackTimeout     = "timeout"
	FallbackUnavailable = "unavailable"
	FallbackNoProducts  = "no_products"
)

var ErrInvalidInput = errors.New("INVALID_INPUT")

// OracleResult is the raw, advisory answer of the language-model oracle.
type OracleResult struct {
	IntentLabel      string                   `json:"intent"`
	IntentConfidence float64                  `json:"confidence"`
	Reasoning        string                   `json:"reasoning,omitempty"`
	Products         []models.ProductProposal `json:"products,omitempty"`
	DeliveryDate     string                   `json:"deliveryDate,omitempty"`
}

// Oracle classifies a message and proposes products. It may fail or time out.
type Oracle interface {
	ClassifyAndExtract(ctx context.Context, text, conversationContext string) (*OracleResult, error)
}

// Resolution is everything Resolve decided for one message.
type Resolution struct {
	Analysis       models.MessageAnalysis      `json:"analysis"`
	Continuation   models.ContinuationDecision `json:"continuation"`
	Decision       models.Decision             `json:"decision"`
	OracleFallback string                      `json:"oracleFallback,omitempty"`
	// States lists the decision machine states the message went through.
	States []models.ResolutionState `json:"states"`
}

// Resolver is stateless between calls and safe for concurrent use.
type Resolver struct {
	oracle        Oracle
	extractor     *extractor.Extractor
	detector      *continuation.Detector
	threshold     float64
	oracleTimeout time.Duration
	logger        logger.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithOracle sets the oracle. Without one every message uses the heuristic
// extractor and an OTHER intent.
func WithOracle(o Oracle) Option {
	return func(r *Resolver) { r.oracle = o }
}

func WithExtractor(e *extractor.Extractor) Option {
	return func(r *Resolver) { r.extractor = e }
}

func WithDetector(d *continuation.Detector) Option {
	return func(r *Resolver) { r.detector = d }
}

// WithThreshold sets the minimum intent confidence for committing an order.
func WithThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

func WithOracleTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.oracleTimeout = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) { r.logger = logger.ForComponent(l, "resolver") }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = t }
}

// WithClock replaces the clock used for processing time.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver with default collaborators.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		extractor:     extractor.New(),
		detector:      continuation.New(),
		threshold:     decision.DefaultThreshold,
		oracleTimeout: DefaultOracleTimeout,
		logger:        logger.ForComponent(nil, "resolver"),
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the configured intent confidence threshold.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve analyzes msg against the catalog and recent orders and returns the
// single decision for it. It never writes anything. Only malformed input and
// cancellation produce an error.
func (r *Resolver) Resolve(ctx context.Context, msg models.Message, catalog []models.CatalogEntry, recentOrders []models.Order) (*Resolution, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.Resolve", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("conversation.id", msg.ConversationID),
	))
	defer span.End()

	start := r.now()
	states := []models.ResolutionState{r.enter(span, models.StateReceived)}
	log := r.logger.WithFields(map[string]interface{}{
		"messageId":      msg.ID,
		"conversationId": msg.ConversationID,
	})

	oracleRes, fallback := r.consultOracle(ctx, msg, log)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	msgIntent := models.UnknownIntent("oracle gave no answer")
	var proposals []models.ProductProposal
	var deliveryDate string
	if oracleRes != nil {
		msgIntent = intent.Normalize(oracleRes.IntentLabel, oracleRes.IntentConfidence, oracleRes.Reasoning)
		proposals = oracleRes.Products
		deliveryDate = oracleRes.DeliveryDate
	}

	products := r.extractor.Extract(msg.Text, proposals)
	if fallback == FallbackNone && len(products) > 0 && products[0].Source == models.SourceHeuristic {
		fallback = FallbackNoProducts
	}

	products = r.match(ctx, products, catalog)

	analysis := models.MessageAnalysis{
		MessageID:         msg.ID,
		Intent:            msgIntent,
		ExtractedProducts: products,
		DeliveryDate:      deliveryDate,
		ConfidenceTier:    matcher.AggregateTier(products),
	}
	if p, ok := analysis.FirstClarifying(); ok {
		analysis.RequiresClarification = true
		analysis.SuggestedQuestion = p.SuggestedQuestion
	}

	states = append(states, r.enter(span, models.StateAnalyzed))

	cont := r.checkContinuation(ctx, msg, msgIntent, products, recentOrders)
	dec := decision.Decide(analysis, cont, r.threshold)
	states = append(states, r.enter(span, dec.State))

	if dec.Action == models.ActionAskClarification {
		markAsked(analysis.ExtractedProducts)
	}
	analysis.ProcessingTime = r.now().Sub(start)

	span.SetAttributes(
		attribute.String("intent.kind", string(msgIntent.Kind)),
		attribute.Int("products", len(products)),
		attribute.String("tier", string(analysis.ConfidenceTier)),
		attribute.String("action", string(dec.Action)),
	)
	log.Debug("Message resolved", map[string]interface{}{
		"intent":   msgIntent.Kind,
		"products": len(products),
		"tier":     analysis.ConfidenceTier,
		"action":   dec.Action,
		"reason":   dec.Reasoning,
	})

	return &Resolution{
		Analysis:       analysis,
		Continuation:   cont,
		Decision:       dec,
		OracleFallback: fallback,
		States:         states,
	}, nil
}

func (r *Resolver) enter(span trace.Span, state models.ResolutionState) models.ResolutionState {
	span.AddEvent(string(state))
	return state
}

// consultOracle bounds the oracle call by the oracle timeout. Any failure is
// reported as a fallback reason, never as an error.
func (r *Resolver) consultOracle(ctx context.Context, msg models.Message, log logger.Logger) (*OracleResult, string) {
	if r.oracle == nil {
		return nil, FallbackDisabled
	}

	octx, cancel := context.WithTimeout(ctx, r.oracleTimeout)
	defer cancel()

	octx, span := r.tracer.Start(octx, "pipeline.Oracle")
	defer span.End()

	res, err := r.oracle.ClassifyAndExtract(octx, msg.Text, msg.Context)
	if err == nil && res == nil {
		err = errors.New("empty oracle response")
	}
	if err != nil {
		reason := FallbackUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(octx.Err(), context.DeadlineExceeded) {
			reason = FallbackTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		if ctx.Err() == nil {
			log.WithError(err).Warn("Oracle failed, using heuristic extraction", map[string]interface{}{
				"reason": reason,
			})
		}
		return nil, reason
	}
	return res, FallbackNone
}

func (r *Resolver) match(ctx context.Context, products []models.ExtractedProduct, catalog []models.CatalogEntry) []models.ExtractedProduct {
	_, span := r.tracer.Start(ctx, "pipeline.Match")
	defer span.End()

	idx := matcher.NewIndex(catalog)
	span.SetAttributes(attribute.Int("catalog.active", idx.Len()))

	out := make([]models.ExtractedProduct, len(products))
	for i, p := range products {
		out[i] = matcher.Apply(p, idx.Match(p))
	}
	return matcher.Confirm(out)
}

func (r *Resolver) checkContinuation(ctx context.Context, msg models.Message, mi models.MessageIntent, products []models.ExtractedProduct, recent []models.Order) models.ContinuationDecision {
	if !mi.IsPurchase() {
		return models.ContinuationDecision{
			DetectionMethod: models.DetectionNone,
			Reasoning:       fmt.Sprintf("continuation not checked for %s intent", mi.Kind),
		}
	}

	_, span := r.tracer.Start(ctx, "pipeline.Continuation")
	defer span.End()

	cont := r.detector.Check(continuation.Input{
		Text:              msg.Text,
		ConversationID:    msg.ConversationID,
		CustomerID:        msg.CustomerID,
		RecentOrders:      recent,
		ExtractedProducts: products,
		At:                msg.ReceivedAt,
	})
	span.SetAttributes(
		attribute.Bool("continuation", cont.IsContinuation),
		attribute.String("method", string(cont.DetectionMethod)),
	)
	return cont
}

func markAsked(products []models.ExtractedProduct) {
	for i := range products {
		if products[i].NeedsClarification() {
			products[i].ClarificationAsked = true
			return
		}
	}
}

func validate(msg models.Message) error {
	var missing []string
	if strings.TrimSpace(msg.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(msg.Text) == "" {
		missing = append(missing, "text")
	}
	if strings.TrimSpace(msg.ConversationID) == "" {
		missing = append(missing, "conversationId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
