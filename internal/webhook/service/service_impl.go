package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/k95foods/payoutbridge/internal/clock"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/notifier"
	"github.com/k95foods/payoutbridge/internal/observability/logger"
	"github.com/k95foods/payoutbridge/internal/observability/metrics"
	prdomain "github.com/k95foods/payoutbridge/internal/paymentrequest/domain"
	setdomain "github.com/k95foods/payoutbridge/internal/settlement/domain"
	setservice "github.com/k95foods/payoutbridge/internal/settlement/service"
	"github.com/k95foods/payoutbridge/internal/webhook/domain"
	"github.com/k95foods/payoutbridge/internal/webhook/signature"
)

// Service is the payout webhook pipeline: log, authenticate, resolve,
// settle, and annotate the log with what happened.
type Service interface {
	HandlePayoutWebhook(ctx context.Context, rawBody []byte, contentType string, headers http.Header) (domain.Result, error)
}

type Params struct {
	fx.In

	Cfg      config.Config
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clock.Clock
	Verifier *signature.Verifier
	Repo     domain.Repository
	Requests prdomain.Repository
	Writer   *setservice.Writer
	Notifier notifier.Notifier
	Metrics  *metrics.Metrics
}

type service struct {
	cfg      config.Config
	db       *gorm.DB
	node     *snowflake.Node
	clock    clock.Clock
	verifier *signature.Verifier
	repo     domain.Repository
	requests prdomain.Repository
	writer   *setservice.Writer
	notifier notifier.Notifier
	metrics  *metrics.Metrics
}

func NewService(p Params) Service {
	return &service{
		cfg:      p.Cfg,
		db:       p.DB,
		node:     p.Node,
		clock:    p.Clock,
		verifier: p.Verifier,
		repo:     p.Repo,
		requests: p.Requests,
		writer:   p.Writer,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *service) HandlePayoutWebhook(ctx context.Context, rawBody []byte, contentType string, headers http.Header) (domain.Result, error) {
	log := logger.FromContext(ctx).Named("webhook.service")
	start := s.clock.Now()

	n, parseErr := Parse(rawBody, contentType, headers)

	// The delivery is logged before any verification so that every
	// attempt, valid or not, leaves a durable trace.
	entry := s.logEntry(n, rawBody, headers, start)
	stored, created, err := s.repo.Record(ctx, s.db, entry)
	if err != nil {
		log.Error("webhook log write failed", zap.Error(err))
		return domain.Result{Status: domain.ResultError, Message: "storage error"},
			fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if !created {
		log.Info("redelivery",
			zap.String("transfer_id", stored.TransferID),
			zap.Int("retry_count", stored.RetryCount))
	}

	finish := func(status string, extra map[string]any) {
		fields := map[string]any{
			"status":        status,
			"processing_ms": s.clock.Now().Sub(start).Milliseconds(),
		}
		for k, v := range extra {
			fields[k] = v
		}
		if err := s.repo.Update(ctx, s.db, stored.ID, fields); err != nil {
			log.Warn("webhook log update failed", zap.Error(err))
		}
		eventType := domain.EventUnknown
		if n != nil && n.EventType != "" {
			eventType = n.EventType
		}
		s.metrics.RecordWebhookEvent(ctx, eventType, status)
		s.metrics.RecordProcessDuration(ctx, eventType, s.clock.Now().Sub(start))
	}

	if parseErr != nil {
		finish(domain.StatusMalformed, map[string]any{"error_log": parseErr.Error()})
		return domain.Result{Status: domain.ResultError, Message: "malformed payload"}, parseErr
	}

	if err := s.verifier.Verify(n); err != nil {
		status := domain.StatusSignatureFailed
		if errors.Is(err, domain.ErrTimestampExpired) {
			status = domain.StatusTimestampExpired
		}
		finish(status, map[string]any{"error_log": err.Error()})
		log.Warn("webhook rejected",
			zap.String("transfer_id", n.TransferID),
			zap.String("reason", status))
		return domain.Result{Status: domain.ResultError, Message: status, TransferID: n.TransferID}, err
	}

	switch n.EventType {
	case domain.EventTransferSuccess:
		return s.handleSuccess(ctx, log, n, finish)
	case domain.EventTransferFailed, domain.EventTransferReversed:
		return s.handleFailure(ctx, log, n, finish)
	default:
		finish(domain.StatusIgnored, nil)
		log.Info("event ignored",
			zap.String("transfer_id", n.TransferID),
			zap.String("event", n.EventType))
		return domain.Result{Status: domain.ResultIgnored, TransferID: n.TransferID}, nil
	}
}

func (s *service) handleSuccess(ctx context.Context, log *zap.Logger, n *domain.Notification, finish func(string, map[string]any)) (domain.Result, error) {
	if n.UTR == "" {
		err := fmt.Errorf("%w: success event without utr", domain.ErrMalformedPayload)
		finish(domain.StatusMalformed, map[string]any{"error_log": err.Error()})
		return domain.Result{Status: domain.ResultError, Message: "missing utr", TransferID: n.TransferID}, err
	}

	req, err := s.requests.Resolve(ctx, s.db, n.TransferID)
	if errors.Is(err, prdomain.ErrNotFound) {
		finish(domain.StatusNotFound, map[string]any{"error_log": "no payment request matches transfer id"})
		log.Warn("unmatched transfer", zap.String("transfer_id", n.TransferID))
		return domain.Result{Status: domain.ResultError, Message: "unknown transfer", TransferID: n.TransferID},
			domain.ErrReferenceNotFound
	}
	if err != nil {
		finish(domain.StatusError, map[string]any{"error_log": err.Error()})
		return domain.Result{Status: domain.ResultError, TransferID: n.TransferID},
			fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	if err := s.requests.RecordUTR(ctx, s.db, req.Name, n.UTR); err != nil {
		finish(domain.StatusError, map[string]any{"error_log": err.Error(), "payment_request": req.Name})
		return domain.Result{Status: domain.ResultError, TransferID: n.TransferID},
			fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	out, err := s.writer.Settle(ctx, setservice.Instruction{
		Request:     req,
		TransferID:  n.TransferID,
		UTR:         n.UTR,
		Amount:      n.Amount,
		HasAmount:   n.HasAmount,
		PostingDate: postingDate(n),
	})
	if err != nil {
		finish(domain.StatusError, map[string]any{"error_log": err.Error(), "payment_request": req.Name})
		return domain.Result{Status: domain.ResultError, TransferID: n.TransferID, PaymentRequest: req.Name},
			fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	s.metrics.RecordSettlement(ctx, string(out.State))

	extra := map[string]any{"payment_request": req.Name}
	if out.PaymentEntry != "" {
		extra["payment_entry"] = out.PaymentEntry
	}
	result := domain.Result{
		TransferID:     n.TransferID,
		PaymentRequest: req.Name,
		PaymentEntry:   out.PaymentEntry,
	}

	switch out.State {
	case setdomain.StateFinalized:
		finish(domain.StatusSuccess, extra)
		result.Status = domain.ResultSuccess
		s.dispatch(ctx, n, req, out, "finalized", "")
	case setdomain.StateDuplicate:
		finish(domain.StatusDuplicate, extra)
		result.Status = domain.ResultDuplicate
		result.Message = "bank reference already settled"
	case setdomain.StateRejected:
		extra["error_log"] = "no clearing account configured"
		finish(domain.StatusRejected, extra)
		result.Status = domain.ResultError
		result.Message = "settlement rejected"
		s.dispatch(ctx, n, req, out, "rejected", "no clearing account configured")
	case setdomain.StateHeld:
		reason := out.FinalizeErr
		if reason == "" && len(out.Failures) > 0 {
			reason = out.Failures[0]
		}
		if reason != "" {
			extra["error_log"] = reason
		}
		finish(domain.StatusHeld, extra)
		result.Status = domain.ResultPartialSuccess
		result.Message = "payment entry held for review"
		s.dispatch(ctx, n, req, out, "held_for_review", reason)
	}
	return result, nil
}

func (s *service) handleFailure(ctx context.Context, log *zap.Logger, n *domain.Notification, finish func(string, map[string]any)) (domain.Result, error) {
	status := prdomain.MapGatewayStatus(n.RawStatus)
	if n.RawStatus == "" {
		status = prdomain.ReconFailed
		if n.EventType == domain.EventTransferReversed {
			status = prdomain.ReconReversed
		}
	}

	// Failure deliveries carry the same drifting transfer ids as success
	// ones, so they go through the same resolver before any write.
	req, err := s.requests.Resolve(ctx, s.db, n.TransferID)
	if errors.Is(err, prdomain.ErrNotFound) {
		finish(domain.StatusNotFound, map[string]any{"error_log": "no payment request matches transfer id"})
		log.Warn("unmatched transfer", zap.String("transfer_id", n.TransferID))
		return domain.Result{Status: domain.ResultError, Message: "unknown transfer", TransferID: n.TransferID},
			domain.ErrReferenceNotFound
	}
	if err != nil {
		finish(domain.StatusError, map[string]any{"error_log": err.Error()})
		return domain.Result{Status: domain.ResultError, TransferID: n.TransferID},
			fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	if err := s.requests.MarkFailed(ctx, s.db, req.Name, status, n.FailureReason); err != nil {
		finish(domain.StatusError, map[string]any{"error_log": err.Error(), "payment_request": req.Name})
		return domain.Result{Status: domain.ResultError, TransferID: n.TransferID},
			fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	finish(domain.StatusSuccess, map[string]any{"payment_request": req.Name})
	log.Info("payout failure recorded",
		zap.String("transfer_id", n.TransferID),
		zap.String("payment_request", req.Name),
		zap.String("status", status),
		zap.String("reason", n.FailureReason))
	s.dispatch(ctx, n, req, setdomain.Outcome{}, "failed", n.FailureReason)
	return domain.Result{
		Status:         domain.ResultIgnored,
		TransferID:     n.TransferID,
		PaymentRequest: req.Name,
	}, nil
}

// dispatch hands the event to the notifier without blocking the response.
func (s *service) dispatch(ctx context.Context, n *domain.Notification, req *prdomain.PaymentRequest, out setdomain.Outcome, state, reason string) {
	ev := notifier.Event{
		TransferID:   n.TransferID,
		EventType:    n.EventType,
		UTR:          n.UTR,
		Amount:       n.Amount,
		HasAmount:    n.HasAmount,
		PaymentEntry: out.PaymentEntry,
		State:        state,
		Reason:       reason,
	}
	if req != nil {
		ev.PaymentRequest = req.Name
		ev.Party = req.Party
		ev.Company = req.Company
	}

	detached := context.WithoutCancel(ctx)
	go s.notifier.Notify(detached, ev)
}

func (s *service) logEntry(n *domain.Notification, rawBody []byte, headers http.Header, receivedAt time.Time) *domain.WebhookLog {
	transferID := ""
	eventType := domain.EventUnknown
	sig := ""
	timestamp := ""
	if n != nil {
		transferID = n.TransferID
		if n.EventType != "" {
			eventType = n.EventType
		}
		sig = n.FieldSignature
		if sig == "" {
			sig = n.HeaderSignature()
		}
		timestamp = n.Timestamp
		if timestamp == "" {
			timestamp = n.HeaderTimestamp()
		}
	}
	if transferID == "" {
		transferID = fmt.Sprintf("UNKNOWN-%d", receivedAt.UnixNano())
	}

	return &domain.WebhookLog{
		ID:               s.node.Generate(),
		TransferID:       domain.Truncate(transferID, domain.MaxFieldBytes),
		EventType:        domain.Truncate(eventType, domain.MaxFieldBytes),
		RawPayload:       domain.Truncate(string(rawBody), domain.MaxPayloadBytes),
		Signature:        domain.Truncate(sig, domain.MaxFieldBytes),
		WebhookTimestamp: domain.Truncate(timestamp, domain.MaxFieldBytes),
		Headers:          marshalHeaders(headers),
		Status:           domain.StatusReceived,
		ReceivedAt:       receivedAt,
		UpdatedAt:        receivedAt,
	}
}

// marshalHeaders flattens headers to a JSON object, capping each value
// before marshaling so the stored document is always valid JSON.
func marshalHeaders(headers http.Header) datatypes.JSON {
	if len(headers) == 0 {
		return datatypes.JSON("{}")
	}
	flat := make(map[string]string, len(headers))
	for k := range headers {
		flat[k] = domain.Truncate(headers.Get(k), domain.MaxFieldBytes)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func postingDate(n *domain.Notification) time.Time {
	raw := n.Timestamp
	if raw == "" {
		raw = n.HeaderTimestamp()
	}
	if raw == "" {
		return time.Time{}
	}
	if parsed, ok := signature.ParseTimestamp(raw); ok {
		return parsed
	}
	return time.Time{}
}
