package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/k95foods/payoutbridge/internal/allocation"
	allocdomain "github.com/k95foods/payoutbridge/internal/allocation/domain"
	"github.com/k95foods/payoutbridge/internal/clock"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/observability/logger"
	prdomain "github.com/k95foods/payoutbridge/internal/paymentrequest/domain"
	"github.com/k95foods/payoutbridge/internal/settlement/domain"
	"github.com/k95foods/payoutbridge/pkg/db"
)

// Instruction is what the webhook pipeline hands the writer: the
// resolved request plus the notification facts that shape the entry.
type Instruction struct {
	Request     *prdomain.PaymentRequest
	TransferID  string
	UTR         string
	Amount      decimal.Decimal
	HasAmount   bool
	PostingDate time.Time
}

type Params struct {
	fx.In

	Cfg       config.Config
	DB        *gorm.DB
	Repo      domain.Repository
	Finalizer domain.Finalizer
	Requests  prdomain.Repository
	Alloc     *allocation.Engine
	Node      *snowflake.Node
	Clock     clock.Clock
}

// Writer turns a successful payout notification into a payment entry:
// duplicate guard, account resolution, allocation, draft insert, and
// finalize-or-hold. It never submits an entry carrying a failure.
type Writer struct {
	cfg       config.Config
	db        *gorm.DB
	repo      domain.Repository
	finalizer domain.Finalizer
	requests  prdomain.Repository
	alloc     *allocation.Engine
	node      *snowflake.Node
	clock     clock.Clock
}

func NewWriter(p Params) *Writer {
	return &Writer{
		cfg:       p.Cfg,
		db:        p.DB,
		repo:      p.Repo,
		finalizer: p.Finalizer,
		requests:  p.Requests,
		alloc:     p.Alloc,
		node:      p.Node,
		clock:     p.Clock,
	}
}

func (w *Writer) Settle(ctx context.Context, in Instruction) (domain.Outcome, error) {
	log := logger.FromContext(ctx).Named("settlement.writer")
	req := in.Request

	existing, err := w.repo.FindLive(ctx, w.db, in.UTR, req.Party, req.Company)
	if err != nil {
		return domain.Outcome{}, err
	}
	if existing != nil {
		log.Info("payment entry already recorded for bank reference",
			zap.String("utr", in.UTR),
			zap.String("payment_entry", existing.Name))
		return domain.Outcome{State: domain.StateDuplicate, PaymentEntry: existing.Name}, nil
	}

	paidFrom, err := w.repo.ResolveClearingAccount(ctx, w.db, req.Company)
	if errors.Is(err, domain.ErrAccountNotConfigured) {
		log.Warn("no clearing account for company; settlement rejected",
			zap.String("company", req.Company))
		return domain.Outcome{State: domain.StateRejected}, nil
	}
	if err != nil {
		return domain.Outcome{}, err
	}

	var warnings, failures []string

	paidTo, err := w.repo.ResolvePartyAccount(ctx, w.db, req.PartyType, req.Party, req.Company)
	if errors.Is(err, domain.ErrAccountNotConfigured) {
		failures = append(failures,
			fmt.Sprintf("no payable account for %s %q in %s", req.PartyType, req.Party, req.Company))
	} else if err != nil {
		return domain.Outcome{}, err
	}

	amount := req.GrandTotal
	if in.HasAmount && in.Amount.IsPositive() {
		amount = in.Amount
		if !in.Amount.Equal(req.GrandTotal) {
			warnings = append(warnings,
				fmt.Sprintf("paid amount %s differs from requested %s",
					in.Amount.StringFixed(2), req.GrandTotal.StringFixed(2)))
		}
	}

	plan := w.alloc.Allocate(ctx, amount, req.ReferenceDoctype, req.ReferenceName)
	warnings = append(warnings, plan.Warnings...)
	failures = append(failures, plan.Failures...)

	if req.ReferenceDoctype != "" && plan.Advance.IsPositive() && len(plan.Failures) == 0 {
		msg := fmt.Sprintf("%s left unallocated against %s %s",
			plan.Advance.StringFixed(2), req.ReferenceDoctype, req.ReferenceName)
		if w.cfg.AllowOverReference {
			warnings = append(warnings, msg)
		} else {
			failures = append(failures, msg)
		}
	}

	entry, refs := w.draft(req, in, amount, paidFrom, paidTo, plan)
	if err := w.repo.Insert(ctx, w.db, entry, refs); err != nil {
		if db.IsDuplicateKeyErr(err) {
			out := domain.Outcome{State: domain.StateDuplicate}
			if rival, ferr := w.repo.FindLive(ctx, w.db, in.UTR, req.Party, req.Company); ferr == nil && rival != nil {
				out.PaymentEntry = rival.Name
			}
			log.Info("concurrent insert lost the race; treating as duplicate",
				zap.String("utr", in.UTR),
				zap.String("payment_entry", out.PaymentEntry))
			return out, nil
		}
		return domain.Outcome{}, err
	}

	if len(failures) > 0 {
		reason := strings.Join(failures, "; ")
		if err := w.repo.Hold(ctx, w.db, entry.Name, reason); err != nil {
			return domain.Outcome{}, err
		}
		log.Warn("payment entry held for review",
			zap.String("payment_entry", entry.Name),
			zap.String("reason", reason))
		return domain.Outcome{
			State:        domain.StateHeld,
			PaymentEntry: entry.Name,
			Warnings:     warnings,
			Failures:     failures,
		}, nil
	}

	if !w.cfg.AutoFinalize {
		return domain.Outcome{
			State:        domain.StateHeld,
			PaymentEntry: entry.Name,
			Warnings:     warnings,
		}, nil
	}

	if err := w.finalizer.Finalize(ctx, w.db, entry.Name); err != nil {
		log.Error("finalize failed; holding draft",
			zap.String("payment_entry", entry.Name),
			zap.Error(err))
		if holdErr := w.repo.Hold(ctx, w.db, entry.Name, err.Error()); holdErr != nil {
			return domain.Outcome{}, holdErr
		}
		return domain.Outcome{
			State:        domain.StateHeld,
			PaymentEntry: entry.Name,
			Warnings:     warnings,
			FinalizeErr:  err.Error(),
		}, nil
	}

	if err := w.requests.MarkReconciled(ctx, w.db, req.Name, in.UTR); err != nil {
		return domain.Outcome{}, err
	}

	log.Info("payment entry finalized",
		zap.String("payment_entry", entry.Name),
		zap.String("payment_request", req.Name),
		zap.String("utr", in.UTR))
	return domain.Outcome{
		State:        domain.StateFinalized,
		PaymentEntry: entry.Name,
		Warnings:     warnings,
	}, nil
}

func (w *Writer) draft(req *prdomain.PaymentRequest, in Instruction, amount decimal.Decimal, paidFrom, paidTo string, plan allocdomain.Plan) (*domain.PaymentEntry, []domain.PaymentEntryReference) {
	now := w.clock.Now()
	postingDate := in.PostingDate
	if postingDate.IsZero() {
		postingDate = now
	}
	id := w.node.Generate()

	entry := &domain.PaymentEntry{
		ID:             id,
		Name:           fmt.Sprintf("PE-%s", id.String()),
		PaymentType:    "Pay",
		PartyType:      req.PartyType,
		Party:          req.Party,
		Company:        req.Company,
		PostingDate:    postingDate,
		ModeOfPayment:  w.cfg.ModeOfPayment,
		PaidFrom:       paidFrom,
		PaidTo:         paidTo,
		PaidAmount:     amount,
		ReceivedAmount: amount,
		Currency:       req.Currency,
		ReferenceNo:    in.UTR,
		ReferenceDate:  postingDate,
		PaymentRequest: req.Name,
		Remarks:        remarks(req, in, plan),
		Status:         domain.EntryDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	refs := make([]domain.PaymentEntryReference, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		refs = append(refs, domain.PaymentEntryReference{
			ID:               w.node.Generate(),
			ReferenceDoctype: line.ReferenceDoctype,
			ReferenceName:    line.ReferenceName,
			AllocatedAmount:  line.AllocatedAmount,
			CreatedAt:        now,
		})
	}
	return entry, refs
}

// remarks builds the audit trail stored on the entry: which request and
// gateway transfer produced it, under which bank reference, plus the
// allocation note.
func remarks(req *prdomain.PaymentRequest, in Instruction, plan allocdomain.Plan) string {
	s := fmt.Sprintf("Payout for %s via transfer %s, UTR %s", req.Name, in.TransferID, in.UTR)
	if plan.Note != "" {
		s += ". " + plan.Note
	}
	return s
}
