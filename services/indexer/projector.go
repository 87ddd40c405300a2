// Package indexer projects committed engine events into SQL read models.
// It never queries the engine: every view is rebuilt from the event stream.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/native/escrow"
)

// ErrNotFound is returned when a view does not exist.
var ErrNotFound = errors.New("indexer: not found")

// OpenDatabase opens the read model store. postgres:// DSNs use the postgres
// driver; anything else is treated as a SQLite path.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Projector is an events.Emitter that keeps the read models current.
type Projector struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewProjector wraps an already migrated database.
func NewProjector(db *gorm.DB, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{db: db, logger: logger}
}

// Emit implements events.Emitter.
func (p *Projector) Emit(evt events.Event) {
	payload, ok := evt.(*types.Event)
	if !ok || payload == nil {
		return
	}
	if err := p.Apply(context.Background(), payload); err != nil {
		p.logger.Error("indexer projection failed",
			slog.String("type", payload.Type),
			slog.String("error", err.Error()))
	}
}

// Apply folds one event into the read models.
func (p *Projector) Apply(ctx context.Context, evt *types.Event) error {
	db := p.db.WithContext(ctx)
	switch evt.Type {
	case escrow.EventTypeAgreementCreated, escrow.EventTypeAgreementFunded, escrow.EventTypeAgreementCanceled,
		escrow.EventTypeAgreementApproved, escrow.EventTypeAgreementRejected, escrow.EventTypeAgreementRefunded,
		escrow.EventTypeAgreementClosed, escrow.EventTypeDisputeRaised:
		return p.updateAgreement(db, evt, func(view *AgreementView) error {
			return applyAgreementAttrs(view, evt)
		})
	case escrow.EventTypeArbitratorProposed, escrow.EventTypeArbitratorAssigned:
		return p.updateAgreement(db, evt, func(view *AgreementView) error {
			return applyDisputeAttrs(view, evt)
		})
	case escrow.EventTypeDisputeResolved, escrow.EventTypeDisputeUnresolved:
		return p.updateAgreement(db, evt, func(view *AgreementView) error {
			if err := applyDisputeAttrs(view, evt); err != nil {
				return err
			}
			view.Status = evt.Attr("status")
			view.Amount = "0"
			view.FeeAmount = evt.Attr("feeAmount")
			view.RefundAmount = evt.Attr("refundAmount")
			view.ReleasedAmount = evt.Attr("releasedAmount")
			return nil
		})
	case escrow.EventTypeFundsWithdrawn:
		return p.recordWithdrawal(db, evt)
	case escrow.EventTypePoolAdded:
		return db.Save(&PoolMemberView{Address: evt.Attr("arbitrator")}).Error
	case escrow.EventTypePoolRemoved:
		return db.Delete(&PoolMemberView{}, "address = ?", evt.Attr("arbitrator")).Error
	default:
		return nil
	}
}

func (p *Projector) updateAgreement(db *gorm.DB, evt *types.Event, mutate func(*AgreementView) error) error {
	id, err := strconv.ParseUint(evt.Attr("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("indexer: event %s without agreement id: %w", evt.Type, err)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var view AgreementView
		err := tx.First(&view, "id = ?", id).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		view.ID = id
		if err := mutate(&view); err != nil {
			return err
		}
		view.LastEvent = evt.Type
		return tx.Save(&view).Error
	})
}

func (p *Projector) recordWithdrawal(db *gorm.DB, evt *types.Event) error {
	id, err := strconv.ParseUint(evt.Attr("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("indexer: withdrawal without agreement id: %w", err)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		withdrawal := WithdrawalView{
			ID:          uuid.New(),
			AgreementID: id,
			Role:        evt.Attr("role"),
			Recipient:   evt.Attr("recipient"),
			Amount:      evt.Attr("amount"),
		}
		if err := tx.Create(&withdrawal).Error; err != nil {
			return err
		}
		var view AgreementView
		if err := tx.First(&view, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		switch {
		case view.Status == escrow.StatusResolved.String() || view.Status == escrow.StatusUnresolved.String():
			switch withdrawal.Role {
			case escrow.RoleDepositor.String():
				view.RefundAmount = "0"
			case escrow.RoleBeneficiary.String():
				view.ReleasedAmount = "0"
			case escrow.RoleArbitrator.String():
				view.FeeAmount = "0"
			}
		default:
			view.Amount = "0"
		}
		view.LastEvent = evt.Type
		return tx.Save(&view).Error
	})
}

func applyAgreementAttrs(view *AgreementView, evt *types.Event) error {
	if status := evt.Attr("status"); status != "" {
		if _, err := escrow.ParseStatus(status); err != nil {
			return err
		}
		view.Status = status
	}
	if amount := evt.Attr("amount"); amount != "" {
		if _, ok := new(big.Int).SetString(amount, 10); !ok {
			return fmt.Errorf("indexer: malformed amount %q", amount)
		}
		view.Amount = amount
	}
	view.Depositor = evt.Attr("depositor")
	view.Beneficiary = evt.Attr("beneficiary")
	view.DetailsHash = evt.Attr("detailsHash")
	view.StartDate = parseInt(evt.Attr("startDate"))
	view.DeadlineDate = parseInt(evt.Attr("deadlineDate"))
	if evt.Type == escrow.EventTypeDisputeRaised {
		view.DisputeStart = parseInt(evt.Attr("disputeStart"))
		view.FeePercentage = parseUint32(evt.Attr("feePercentage"))
		view.Agreed = false
		view.Arbitrator = ""
	}
	return nil
}

func applyDisputeAttrs(view *AgreementView, evt *types.Event) error {
	view.Arbitrator = evt.Attr("arbitrator")
	view.FeePercentage = parseUint32(evt.Attr("feePercentage"))
	agreed, err := strconv.ParseBool(evt.Attr("agreed"))
	if err != nil {
		return fmt.Errorf("indexer: malformed agreed flag: %w", err)
	}
	view.Agreed = agreed
	if assigned := evt.Attr("assignedDate"); assigned != "" {
		view.AssignedDate = parseInt(assigned)
	}
	return nil
}

func parseInt(value string) int64 {
	v, _ := strconv.ParseInt(value, 10, 64)
	return v
}

func parseUint32(value string) uint32 {
	v, _ := strconv.ParseUint(value, 10, 32)
	return uint32(v)
}

// Agreement returns the view of one agreement.
func (p *Projector) Agreement(ctx context.Context, id uint64) (*AgreementView, error) {
	var view AgreementView
	if err := p.db.WithContext(ctx).First(&view, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &view, nil
}

// AgreementsByParty lists agreements where addr is depositor or beneficiary.
func (p *Projector) AgreementsByParty(ctx context.Context, addr string) ([]AgreementView, error) {
	var views []AgreementView
	err := p.db.WithContext(ctx).
		Where("depositor = ? OR beneficiary = ?", addr, addr).
		Order("id ASC").
		Find(&views).Error
	return views, err
}

// PoolMembers lists the projected arbitrator pool.
func (p *Projector) PoolMembers(ctx context.Context) ([]PoolMemberView, error) {
	var members []PoolMemberView
	err := p.db.WithContext(ctx).Order("created_at ASC").Find(&members).Error
	return members, err
}

// Withdrawals lists payouts of one agreement.
func (p *Projector) Withdrawals(ctx context.Context, id uint64) ([]WithdrawalView, error) {
	var out []WithdrawalView
	err := p.db.WithContext(ctx).Where("agreement_id = ?", id).Order("created_at ASC").Find(&out).Error
	return out, err
}
