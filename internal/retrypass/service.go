package retrypass

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/k95foods/payoutbridge/internal/observability/logger"
	prdomain "github.com/k95foods/payoutbridge/internal/paymentrequest/domain"
	setdomain "github.com/k95foods/payoutbridge/internal/settlement/domain"
	setservice "github.com/k95foods/payoutbridge/internal/settlement/service"
)

// DefaultBatchLimit bounds one pass so a backlog cannot stall startup.
const DefaultBatchLimit = 200

type Params struct {
	fx.In

	DB     *gorm.DB
	Writer *setservice.Writer
}

// Service sweeps payment requests that received a successful payout but
// never got a settlement written, usually because a draft insert or
// finalize failed after the webhook was acknowledged.
type Service struct {
	db     *gorm.DB
	writer *setservice.Writer
}

func NewService(p Params) *Service {
	return &Service{db: p.DB, writer: p.Writer}
}

// Stats summarizes one retry pass.
type Stats struct {
	Scanned   int
	Finalized int
	Held      int
	Skipped   int
	Failed    int
}

// Run drives the settlement writer over every stranded request, up to
// limit rows. Zero or negative limits fall back to DefaultBatchLimit.
func (s *Service) Run(ctx context.Context, limit int) (Stats, error) {
	log := logger.FromContext(ctx).Named("retrypass")
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	var stranded []prdomain.PaymentRequest
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM payment_requests pr
		 WHERE pr.reconciliation_status = ?
		   AND pr.utr_number <> ''
		   AND NOT EXISTS (
			SELECT 1 FROM payment_entries pe
			WHERE pe.reference_no = pr.utr_number
			  AND pe.party = pr.party
			  AND pe.company = pr.company
			  AND pe.status <> ?
		   )
		 ORDER BY pr.updated_at
		 LIMIT ?`,
		prdomain.ReconSuccess, setdomain.EntryCancelled, limit,
	).Scan(&stranded).Error
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Scanned: len(stranded)}
	for i := range stranded {
		req := stranded[i]
		out, err := s.writer.Settle(ctx, setservice.Instruction{
			Request:    &req,
			TransferID: req.PayoutID,
			UTR:        req.UTRNumber,
		})
		if err != nil {
			stats.Failed++
			log.Error("retry settlement failed",
				zap.String("payment_request", req.Name),
				zap.Error(err))
			continue
		}

		switch out.State {
		case setdomain.StateFinalized:
			stats.Finalized++
		case setdomain.StateHeld:
			stats.Held++
		default:
			stats.Skipped++
		}
		log.Info("retry settlement",
			zap.String("payment_request", req.Name),
			zap.String("utr", req.UTRNumber),
			zap.String("state", string(out.State)))
	}

	log.Info("retry pass complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("finalized", stats.Finalized),
		zap.Int("held", stats.Held),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats, nil
}
