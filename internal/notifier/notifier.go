package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/observability/logger"
	"github.com/k95foods/payoutbridge/internal/observability/metrics"
	"github.com/k95foods/payoutbridge/internal/providers/email"
	"github.com/k95foods/payoutbridge/internal/providers/slack"
	setdomain "github.com/k95foods/payoutbridge/internal/settlement/domain"
)

// Event is a settled or troubled payout worth telling someone about.
type Event struct {
	TransferID     string
	EventType      string
	UTR            string
	Amount         decimal.Decimal
	HasAmount      bool
	PaymentRequest string
	PaymentEntry   string
	Party          string
	Company        string
	State          string
	Reason         string
}

// Notifier delivers best-effort alerts. Failures are logged and counted,
// never surfaced to the webhook pipeline.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type Params struct {
	fx.In

	Cfg     config.Config
	DB      *gorm.DB
	Email   email.Provider
	Slack   slack.Provider
	Repo    setdomain.Repository
	Metrics *metrics.Metrics
}

type service struct {
	cfg     config.Config
	db      *gorm.DB
	email   email.Provider
	slack   slack.Provider
	repo    setdomain.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) Notifier {
	return &service{
		cfg:     p.Cfg,
		db:      p.DB,
		email:   p.Email,
		slack:   p.Slack,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *service) Notify(ctx context.Context, ev Event) {
	log := logger.FromContext(ctx).Named("notifier")

	switch ev.State {
	case "finalized":
		s.notifyVendor(ctx, log, ev)
	default:
		s.notifyOps(ctx, log, ev)
	}
}

// notifyOps raises the alarm on anything that needs a human: held drafts,
// rejected settlements, failed or reversed payouts.
func (s *service) notifyOps(ctx context.Context, log *zap.Logger, ev Event) {
	fields := map[string]string{
		"Transfer": ev.TransferID,
		"Event":    ev.EventType,
		"State":    ev.State,
	}
	if ev.PaymentRequest != "" {
		fields["Payment Request"] = ev.PaymentRequest
	}
	if ev.PaymentEntry != "" {
		fields["Payment Entry"] = ev.PaymentEntry
	}
	if ev.UTR != "" {
		fields["UTR"] = ev.UTR
	}
	if ev.Reason != "" {
		fields["Reason"] = ev.Reason
	}

	header := fmt.Sprintf("Payout needs attention: %s", ev.State)
	if err := s.slack.PostMessage(ctx, header, fields); err != nil {
		log.Warn("slack alert failed", zap.String("transfer_id", ev.TransferID), zap.Error(err))
		s.metrics.RecordNotifyFailure(ctx, "slack")
	}

	if len(s.cfg.OpsEmails) == 0 {
		return
	}
	subject := fmt.Sprintf("[%s] payout %s: %s", s.cfg.AppName, ev.State, ev.TransferID)
	if err := s.email.Send(ctx, s.cfg.OpsEmails, subject, opsBody(ev)); err != nil {
		log.Warn("ops email failed", zap.String("transfer_id", ev.TransferID), zap.Error(err))
		s.metrics.RecordNotifyFailure(ctx, "email")
	}
}

// notifyVendor confirms a finalized payout to the supplier, when the
// supplier has an address on file.
func (s *service) notifyVendor(ctx context.Context, log *zap.Logger, ev Event) {
	if ev.Party == "" {
		return
	}
	to, err := s.repo.SupplierEmail(ctx, s.db, ev.Party)
	if err != nil {
		log.Warn("supplier email lookup failed", zap.String("party", ev.Party), zap.Error(err))
		s.metrics.RecordNotifyFailure(ctx, "email")
		return
	}
	if to == "" {
		return
	}

	subject := fmt.Sprintf("Payment released: %s", ev.PaymentRequest)
	if err := s.email.Send(ctx, []string{to}, subject, vendorBody(ev)); err != nil {
		log.Warn("vendor email failed",
			zap.String("party", ev.Party),
			zap.String("transfer_id", ev.TransferID),
			zap.Error(err))
		s.metrics.RecordNotifyFailure(ctx, "email")
	}
}

func opsBody(ev Event) string {
	var b strings.Builder
	b.WriteString("<p>A payout notification needs review.</p><ul>")
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "<li><b>%s:</b> %s</li>", label, html.EscapeString(value))
		}
	}
	row("Transfer", ev.TransferID)
	row("Event", ev.EventType)
	row("State", ev.State)
	row("Payment Request", ev.PaymentRequest)
	row("Payment Entry", ev.PaymentEntry)
	row("UTR", ev.UTR)
	row("Reason", ev.Reason)
	b.WriteString("</ul>")
	return b.String()
}

func vendorBody(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Dear %s,</p>", html.EscapeString(ev.Party))
	if ev.HasAmount {
		fmt.Fprintf(&b, "<p>Your payment of %s has been released.</p>", ev.Amount.StringFixed(2))
	} else {
		b.WriteString("<p>Your payment has been released.</p>")
	}
	if ev.UTR != "" {
		fmt.Fprintf(&b, "<p>Bank reference (UTR): %s</p>", html.EscapeString(ev.UTR))
	}
	b.WriteString("<p>This is an automated notification.</p>")
	return b.String()
}
