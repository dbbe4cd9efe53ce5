package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

const historySavepoint = "stock_history_entry"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AdjustInput describes one ledger movement.
type AdjustInput struct {
	PricingUnitID  uuid.UUID
	Delta          int
	ChangeType     enums.StockChangeType
	RelatedOrderID *uuid.UUID
	Note           *string
	ActorUserID    *uuid.UUID
}

// AdjustResult reports the balance after a movement. NewStock is nil for
// untracked units.
type AdjustResult struct {
	PricingUnitID uuid.UUID `json:"pricing_unit_id"`
	NewStock      *int      `json:"new_stock"`
	Tracked       bool      `json:"tracked"`
}

// UpdateInput is the seller-facing stock edit. Exactly one of Delta, SetTo or
// Untrack must be provided.
type UpdateInput struct {
	PricingUnitID uuid.UUID
	Delta         *int
	SetTo         *int
	Untrack       bool
	ChangeType    enums.StockChangeType
	Note          *string
}

// HistoryPage is a page of stock movements, newest first.
type HistoryPage struct {
	Entries    []models.StockHistory `json:"entries"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// Service is the stock ledger.
type Service interface {
	Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (*AdjustResult, error)
	Update(ctx context.Context, principal auth.Principal, input UpdateInput) (*AdjustResult, error)
	History(ctx context.Context, principal auth.Principal, unitID uuid.UUID, params pagination.Params) (*HistoryPage, error)
}

type service struct {
	repo    Repository
	catalog catalog.Repository
	tx      txRunner
	logg    *logger.Logger
}

// NewService builds the stock ledger.
func NewService(repo Repository, catalogRepo catalog.Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, catalog: catalogRepo, tx: tx, logg: logg}, nil
}

// Adjust applies input inside tx. A nil tx runs the movement in its own
// transaction.
func (s *service) Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (*AdjustResult, error) {
	if input.PricingUnitID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pricing unit id required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock delta must not be zero")
	}
	if !input.ChangeType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid stock change type")
	}

	if tx == nil {
		var result *AdjustResult
		err := s.tx.WithTx(ctx, func(inner *gorm.DB) error {
			var err error
			result, err = s.adjust(ctx, inner, input)
			return err
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return s.adjust(ctx, tx, input)
}

func (s *service) adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (*AdjustResult, error) {
	repo := s.repo.WithTx(tx)

	affected, err := repo.ApplyDelta(ctx, input.PricingUnitID, input.Delta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply stock delta")
	}
	if affected == 0 {
		return nil, s.rejection(ctx, tx, input)
	}

	unit, err := repo.FindUnit(ctx, input.PricingUnitID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read stock balance")
	}

	s.appendHistory(ctx, tx, models.StockHistory{
		ID:             uuid.New(),
		PricingUnitID:  input.PricingUnitID,
		Delta:          input.Delta,
		ChangeType:     input.ChangeType,
		StockAfter:     unit.Stock,
		RelatedOrderID: input.RelatedOrderID,
		ActorUserID:    input.ActorUserID,
		Note:           input.Note,
	})

	return &AdjustResult{
		PricingUnitID: unit.ID,
		NewStock:      unit.Stock,
		Tracked:       unit.Stock != nil,
	}, nil
}

func (s *service) rejection(ctx context.Context, tx *gorm.DB, input AdjustInput) error {
	rec, err := s.catalog.WithTx(tx).FindUnit(ctx, input.PricingUnitID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.NewReason(pkgerrors.CodeNotFound, pkgerrors.ReasonUnitNotFound, "pricing unit not found",
				map[string]any{"pricing_unit_id": input.PricingUnitID.String()})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing unit")
	}
	available := 0
	if rec.Unit.Stock != nil {
		available = *rec.Unit.Stock
	}
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonInsufficientStock,
		fmt.Sprintf("insufficient stock for %s", rec.Product.Name),
		map[string]any{
			"pricing_unit_id": rec.Unit.ID.String(),
			"product_id":      rec.Product.ID.String(),
			"product_name":    rec.Product.Name,
			"available":       available,
			"requested":       -input.Delta,
		})
}

// appendHistory writes the change log entry under a savepoint. A failed
// write is logged and rolled back without failing the movement.
func (s *service) appendHistory(ctx context.Context, tx *gorm.DB, entry models.StockHistory) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"pricing_unit_id": entry.PricingUnitID.String(),
		"change_type":     entry.ChangeType,
		"delta":           entry.Delta,
	})
	if err := tx.SavePoint(historySavepoint).Error; err != nil {
		s.logg.Error(logCtx, "stock history savepoint failed", err)
		return
	}
	if err := s.repo.WithTx(tx).InsertHistory(ctx, &entry); err != nil {
		s.logg.Error(logCtx, "stock history write failed", err)
		if rbErr := tx.RollbackTo(historySavepoint).Error; rbErr != nil {
			s.logg.Error(logCtx, "stock history rollback failed", rbErr)
		}
	}
}

func (s *service) Update(ctx context.Context, principal auth.Principal, input UpdateInput) (*AdjustResult, error) {
	if input.PricingUnitID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pricing unit id required")
	}
	modes := 0
	if input.Delta != nil {
		modes++
	}
	if input.SetTo != nil {
		modes++
	}
	if input.Untrack {
		modes++
	}
	if modes != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of delta, set_to or untrack is required")
	}
	if input.SetTo != nil && *input.SetTo < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock must not be negative")
	}
	changeType := input.ChangeType
	if changeType == "" {
		changeType = enums.StockChangeManualAdjustment
	}
	if !changeType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid stock change type")
	}

	var result *AdjustResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.authorize(ctx, tx, principal, input.PricingUnitID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		switch {
		case input.Delta != nil:
			res, err := s.adjust(ctx, tx, AdjustInput{
				PricingUnitID: input.PricingUnitID,
				Delta:         *input.Delta,
				ChangeType:    changeType,
				Note:          input.Note,
				ActorUserID:   principal.ActorID(),
			})
			if err != nil {
				return err
			}
			result = res
			return nil

		}

		unit, err := repo.LockUnit(ctx, input.PricingUnitID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.NewReason(pkgerrors.CodeNotFound, pkgerrors.ReasonUnitNotFound, "pricing unit not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock pricing unit")
		}

		if input.Untrack {
			result = &AdjustResult{PricingUnitID: unit.ID}
			if unit.Stock == nil {
				return nil
			}
			if err := repo.SetStock(ctx, unit.ID, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "untrack stock")
			}
			// The remaining count leaves the ledger; stock_after stays null.
			s.appendHistory(ctx, tx, models.StockHistory{
				ID:            uuid.New(),
				PricingUnitID: unit.ID,
				Delta:         -*unit.Stock,
				ChangeType:    changeType,
				ActorUserID:   principal.ActorID(),
				Note:          input.Note,
			})
			return nil
		}

		target := *input.SetTo
		if unit.Stock == nil {
			if err := repo.SetStock(ctx, unit.ID, &target); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "track stock")
			}
			s.appendHistory(ctx, tx, models.StockHistory{
				ID:            uuid.New(),
				PricingUnitID: unit.ID,
				Delta:         target,
				ChangeType:    changeType,
				StockAfter:    &target,
				ActorUserID:   principal.ActorID(),
				Note:          input.Note,
			})
			result = &AdjustResult{PricingUnitID: unit.ID, NewStock: &target, Tracked: true}
			return nil
		}

		delta := target - *unit.Stock
		if delta == 0 {
			current := *unit.Stock
			result = &AdjustResult{PricingUnitID: unit.ID, NewStock: &current, Tracked: true}
			return nil
		}
		res, err := s.adjust(ctx, tx, AdjustInput{
			PricingUnitID: unit.ID,
			Delta:         delta,
			ChangeType:    changeType,
			Note:          input.Note,
			ActorUserID:   principal.ActorID(),
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) History(ctx context.Context, principal auth.Principal, unitID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	if unitID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pricing unit id required")
	}
	if err := s.authorize(ctx, nil, principal, unitID); err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListHistory(ctx, unitID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock history")
	}
	return &HistoryPage{Entries: rows, NextCursor: next}, nil
}

// authorize allows admins and the owner of the shop selling the unit.
func (s *service) authorize(ctx context.Context, tx *gorm.DB, principal auth.Principal, unitID uuid.UUID) error {
	if principal.IsAdmin() {
		return nil
	}
	if !principal.Has(enums.RoleSeller) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "seller role required")
	}
	repo := s.catalog.WithTx(tx)
	rec, err := repo.FindUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.NewReason(pkgerrors.CodeNotFound, pkgerrors.ReasonUnitNotFound, "pricing unit not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing unit")
	}
	shop, err := repo.FindShop(ctx, rec.Product.ShopID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	if shop.OwnerID != principal.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "pricing unit belongs to another shop")
	}
	return nil
}
