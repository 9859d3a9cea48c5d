package resolveordermessage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"order-workers/internal/common/aws"
	"order-workers/internal/common/camunda"
	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/lock"
	"order-workers/internal/common/logger"
	"order-workers/internal/common/metrics"
	"order-workers/internal/common/observability"
	"order-workers/internal/common/validation"
	"order-workers/internal/models"
	"order-workers/internal/ordering/pipeline"
	"order-workers/internal/store/catalog"
	"order-workers/internal/store/orders"
)

const (
	TaskType = "resolve-order-message"

	jobCommandTimeout = 10 * time.Second
)

// Resolver decides what a message means for the conversation's orders.
type Resolver interface {
	Resolve(ctx context.Context, msg models.Message, catalog []models.CatalogEntry, recentOrders []models.Order) (*pipeline.Resolution, error)
}

// OrderStore reads open orders and applies committing decisions.
type OrderStore interface {
	RecentOrders(ctx context.Context, conversationID string, since time.Time) ([]models.Order, error)
	Commit(ctx context.Context, req orders.CommitRequest) (*orders.CommitResult, error)
}

type HandlerOptions struct {
	Config    *Config
	Resolver  Resolver
	Catalog   catalog.Source
	Orders    OrderStore
	Locker    lock.Locker
	Publisher aws.EventPublisher
	// Observability is optional.
	Observability *observability.Observability
	Logger        logger.Logger
	Clock         func() time.Time
}

type Handler struct {
	config       *Config
	resolver     Resolver
	catalog      catalog.Source
	orders       OrderStore
	locker       lock.Locker
	publisher    aws.EventPublisher
	obs          *observability.Observability
	tracer       trace.Tracer
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	switch {
	case opts.Resolver == nil:
		return nil, errors.New("resolver is required")
	case opts.Catalog == nil:
		return nil, errors.New("catalog source is required")
	case opts.Orders == nil:
		return nil, errors.New("order store is required")
	case opts.Locker == nil:
		return nil, errors.New("locker is required")
	}

	h := &Handler{
		config:    opts.Config,
		resolver:  opts.Resolver,
		catalog:   opts.Catalog,
		orders:    opts.Orders,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		obs:       opts.Observability,
		now:       opts.Clock,
	}
	if h.config == nil {
		h.config = LoadConfig(nil)
	}
	if h.publisher == nil {
		h.publisher = aws.NoopPublisher{}
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	if h.obs != nil {
		h.tracer = h.obs.Tracer()
	} else {
		h.tracer = otel.Tracer("order-workers/" + TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	h.logger = log.WithFields(map[string]interface{}{"taskType": TaskType})
	h.errorHandler = apperrors.NewErrorHandler(h.logger)
	return h, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	started := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	input, err := parseInput(job.Variables)
	if err != nil {
		h.failJob(client, job, err, started)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, input)
	if err != nil {
		h.failJob(client, job, err, started)
		return
	}

	h.completeJob(client, job, output, started)
}

func parseInput(variables string) (*Input, error) {
	if err := validation.ResolveOrderInput.ValidateJSON([]byte(variables)).Error(); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

// Execute resolves one message while holding its conversation lock and
// commits the decision when it creates or extends an order.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, apperrors.NewInvalidInputError("input cannot be nil")
	}
	msg := input.Message(h.now())
	log := h.logger.WithFields(map[string]interface{}{
		"messageId":      msg.ID,
		"conversationId": msg.ConversationID,
	})

	ctx, span := h.tracer.Start(ctx, TaskType, trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("conversation.id", msg.ConversationID),
	))
	defer span.End()

	key := lock.ConversationKey(msg.ConversationID)
	waitStart := time.Now()
	release, err := h.locker.Acquire(ctx, key)
	metrics.LockWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		span.SetStatus(codes.Error, "lock")
		return nil, apperrors.NewLockTimeoutError(key, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("conversation lock release failed", map[string]interface{}{
				"lockKey": key,
				"error":   err.Error(),
			})
		}
	}()

	entries, recent, err := h.load(ctx, msg, log)
	if err != nil {
		span.SetStatus(codes.Error, "load")
		return nil, err
	}

	resolveStart := time.Now()
	res, err := h.resolver.Resolve(ctx, msg, entries, recent)
	if err != nil {
		span.SetStatus(codes.Error, "resolve")
		if errors.Is(err, pipeline.ErrInvalidInput) {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		return nil, apperrors.NewInternalError(err)
	}
	h.observeResolution(ctx, res, time.Since(resolveStart))

	out := newOutput(res)
	span.SetAttributes(attribute.String("action", string(out.Action)))
	if !res.Decision.Action.CommitsOrder() {
		log.Info("message resolved without commit", map[string]interface{}{
			"action": out.Action,
			"reason": out.Reasoning,
		})
		return out, nil
	}

	// The commit below is the only write; nothing is visible if we stop here.
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, apperrors.NewInternalError(fmt.Errorf("cancelled before commit: %w", err))
	}

	items := models.ItemsFromProducts(res.Analysis.ExtractedProducts)
	committed, err := h.orders.Commit(ctx, orders.CommitRequest{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		CustomerID:     msg.CustomerID,
		Action:         res.Decision.Action,
		TargetOrderID:  res.Decision.TargetOrderID,
		Items:          items,
		DeliveryDate:   res.Analysis.DeliveryDate,
		At:             h.now(),
	})
	switch {
	case errors.Is(err, orders.ErrDuplicateMessage):
		metrics.OrderCommits.WithLabelValues(string(res.Decision.Action), "duplicate").Inc()
		dup := apperrors.NewDuplicateMessageError(msg.ID)
		log.Warn("message already committed, completing as no-op", map[string]interface{}{
			"errorCode": string(dup.Code),
			"details":   dup.Details,
		})
		out.Duplicate = true
		out.OrderID = ""
		return out, nil
	case err != nil:
		metrics.OrderCommits.WithLabelValues(string(res.Decision.Action), "error").Inc()
		span.SetStatus(codes.Error, "commit")
		return nil, apperrors.NewOrderCommitFailedError(err)
	}
	metrics.OrderCommits.WithLabelValues(string(committed.Action), "committed").Inc()

	out.Action = committed.Action
	out.OrderID = committed.OrderID
	if committed.Action != res.Decision.Action {
		out.Reasoning = fmt.Sprintf("%s; target order %s closed, opened a new order", out.Reasoning, res.Decision.TargetOrderID)
	}
	log.Info("order committed", map[string]interface{}{
		"action":  committed.Action,
		"orderId": committed.OrderID,
		"items":   len(items),
	})

	out.EventID = h.publish(ctx, msg, committed, items, res.Analysis.DeliveryDate, log)
	return out, nil
}

// load fetches the catalog and the recent orders concurrently. A catalog
// failure fails the job; recent orders degrade to none.
func (h *Handler) load(ctx context.Context, msg models.Message, log logger.Logger) ([]models.CatalogEntry, []models.Order, error) {
	var entries []models.CatalogEntry
	var recent []models.Order

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = h.catalog.Load(gctx)
		if err != nil {
			return apperrors.NewCatalogLoadFailedError(err)
		}
		return nil
	})
	g.Go(func() error {
		since := msg.ReceivedAt.Add(-h.config.ContinuationWindow)
		found, err := h.orders.RecentOrders(gctx, msg.ConversationID, since)
		if err != nil {
			degraded := apperrors.NewRecentOrdersLoadFailedError(msg.ConversationID, err)
			log.Warn("recent orders unavailable, continuing without them", map[string]interface{}{
				"errorCode": string(degraded.Code),
				"details":   degraded.Details,
			})
			return nil
		}
		recent = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entries, recent, nil
}

func (h *Handler) publish(ctx context.Context, msg models.Message, committed *orders.CommitResult, items []models.OrderItem, deliveryDate string, log logger.Logger) string {
	event := models.OrderEvent{
		Type:           models.EventTypeFor(committed.Action),
		OrderID:        committed.OrderID,
		ConversationID: msg.ConversationID,
		CustomerID:     msg.CustomerID,
		MessageID:      msg.ID,
		Items:          items,
		DeliveryDate:   deliveryDate,
		OccurredAt:     h.now(),
	}
	id, err := h.publisher.PublishOrderEvent(context.WithoutCancel(ctx), event)
	if err != nil {
		failed := apperrors.NewEventPublishFailedError(err)
		log.Error("order event not published", map[string]interface{}{
			"errorCode": string(failed.Code),
			"orderId":   committed.OrderID,
			"details":   failed.Details,
		})
		return ""
	}
	return id
}

func (h *Handler) observeResolution(ctx context.Context, res *pipeline.Resolution, d time.Duration) {
	tiers := make([]string, 0, len(res.Analysis.ExtractedProducts))
	for _, p := range res.Analysis.ExtractedProducts {
		if p.MatchTier != "" {
			tiers = append(tiers, string(p.MatchTier))
		}
	}
	metrics.ObserveResolution(string(res.Decision.Action), res.OracleFallback, tiers, d)

	var degraded *apperrors.StandardError
	switch res.OracleFallback {
	case pipeline.FallbackTimeout:
		degraded = apperrors.NewOracleTimeoutError(nil)
	case pipeline.FallbackUnavailable:
		degraded = apperrors.NewOracleUnavailableError(nil)
	}
	if degraded != nil {
		h.logger.Warn("resolved with heuristic extraction", map[string]interface{}{
			"errorCode": string(degraded.Code),
			"messageId": res.Analysis.MessageID,
		})
	}

	if h.obs != nil {
		h.obs.RecordResolution(ctx, string(res.Decision.Action), string(res.Analysis.ConfidenceTier), d)
	}
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), jobCommandTimeout)
	defer cancel()

	err := camunda.Retry(ctx, h.config.CompleteRetry, "complete job", func(ctx context.Context) error {
		cmd, err := client.NewCompleteJobCommand().
			JobKey(job.Key).
			VariablesFromObject(output)
		if err != nil {
			return err
		}
		_, err = cmd.Send(ctx)
		return err
	})
	if err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}

	metrics.ObserveJob(TaskType, "", started)
	if h.obs != nil {
		h.obs.RecordJobProcessed(ctx, "completed")
		h.obs.RecordJobDuration(ctx, time.Since(started), "completed")
	}
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":    job.Key,
		"action":    output.Action,
		"orderId":   output.OrderID,
		"duplicate": output.Duplicate,
	})
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), jobCommandTimeout)
	defer cancel()

	stdErr := apperrors.AsStandardError(err)
	metrics.ObserveJob(TaskType, string(stdErr.Code), started)
	if h.obs != nil {
		h.obs.RecordJobProcessed(ctx, "failed")
		h.obs.RecordJobDuration(ctx, time.Since(started), "failed")
	}
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}
