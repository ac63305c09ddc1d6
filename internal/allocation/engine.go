package allocation

import (
	"context"
	"fmt"

	"github.com/k95foods/payoutbridge/internal/allocation/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// Engine computes how much of a payment lands on the originating
// reference document and how much is recorded as unallocated advance.
// It never fails hard: lookup errors degrade to a fully-unallocated plan
// with a failure annotation.
type Engine struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewEngine(p Params) *Engine {
	return &Engine{
		db:  p.DB,
		log: p.Log.Named("allocation.engine"),
	}
}

// Allocate builds the allocation plan for amount against the optional
// reference document.
func (e *Engine) Allocate(ctx context.Context, amount decimal.Decimal, refDoctype, refName string) domain.Plan {
	if refDoctype == "" || refName == "" {
		return domain.Plan{
			Advance: amount,
			Note:    "no reference document; full amount recorded as advance",
		}
	}

	switch refDoctype {
	case domain.DoctypePurchaseOrder:
		outstanding, err := e.purchaseOrderOutstanding(ctx, refName)
		if err != nil {
			return e.degraded(amount, refDoctype, refName, err)
		}
		return buildPlan(amount, outstanding, refDoctype, refName)
	case domain.DoctypePurchaseInvoice:
		outstanding, err := e.purchaseInvoiceOutstanding(ctx, refName)
		if err != nil {
			return e.degraded(amount, refDoctype, refName, err)
		}
		return buildPlan(amount, outstanding, refDoctype, refName)
	default:
		return e.degraded(amount, refDoctype, refName, fmt.Errorf("unsupported reference doctype %q", refDoctype))
	}
}

func buildPlan(amount, outstanding decimal.Decimal, refDoctype, refName string) domain.Plan {
	if outstanding.LessThanOrEqual(decimal.Zero) {
		return domain.Plan{
			Advance: amount,
			Note:    fmt.Sprintf("%s %s has no outstanding amount; full %s recorded as advance", refDoctype, refName, amount),
			Warnings: []string{
				fmt.Sprintf("reference %s %s already settled", refDoctype, refName),
			},
		}
	}

	allocated := decimal.Min(amount, outstanding)
	plan := domain.Plan{
		Lines: []domain.Line{{
			ReferenceDoctype: refDoctype,
			ReferenceName:    refName,
			AllocatedAmount:  allocated,
		}},
		Advance: amount.Sub(allocated),
	}

	if plan.Advance.IsPositive() {
		plan.Note = fmt.Sprintf("partial allocation: %s to %s %s, %s as advance", allocated, refDoctype, refName, plan.Advance)
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("amount exceeds outstanding on %s %s by %s", refDoctype, refName, plan.Advance))
	} else {
		plan.Note = fmt.Sprintf("fully allocated to %s %s", refDoctype, refName)
	}
	return plan
}

// degraded is the fallback when the reference document cannot be read:
// the whole amount becomes advance and the failure is carried for the
// settlement writer to weigh.
func (e *Engine) degraded(amount decimal.Decimal, refDoctype, refName string, cause error) domain.Plan {
	e.log.Warn("reference allocation failed",
		zap.String("reference_doctype", refDoctype),
		zap.String("reference_name", refName),
		zap.Error(cause),
	)
	return domain.Plan{
		Advance: amount,
		Note:    fmt.Sprintf("reference allocation failed: %v; payment recorded as advance, manual allocation required", cause),
		Failures: []string{
			fmt.Sprintf("allocation against %s %s failed: %v", refDoctype, refName, cause),
		},
	}
}

func (e *Engine) purchaseOrderOutstanding(ctx context.Context, name string) (decimal.Decimal, error) {
	var po domain.PurchaseOrder
	err := e.db.WithContext(ctx).Raw(
		`SELECT * FROM purchase_orders WHERE name = ? LIMIT 1`, name,
	).Scan(&po).Error
	if err != nil {
		return decimal.Zero, err
	}
	if po.Name == "" {
		return decimal.Zero, fmt.Errorf("purchase order %s not found", name)
	}
	return po.GrandTotal.Sub(po.AdvancePaid), nil
}

func (e *Engine) purchaseInvoiceOutstanding(ctx context.Context, name string) (decimal.Decimal, error) {
	var pi domain.PurchaseInvoice
	err := e.db.WithContext(ctx).Raw(
		`SELECT * FROM purchase_invoices WHERE name = ? LIMIT 1`, name,
	).Scan(&pi).Error
	if err != nil {
		return decimal.Zero, err
	}
	if pi.Name == "" {
		return decimal.Zero, fmt.Errorf("purchase invoice %s not found", name)
	}
	return pi.OutstandingAmount, nil
}
