package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// Placement ("veiculação") books a product inside a PI for a date range.
type Placement struct {
	ID               int             `gorm:"primary_key" json:"id"`
	InsertionOrderId int             `gorm:"not null;index" json:"insertion_order_id"`
	ProductId        int             `gorm:"not null;index" json:"product_id"`
	StartDate        time.Time       `gorm:"not null" json:"start_date"`
	EndDate          time.Time       `gorm:"not null" json:"end_date"`
	Quantity         int             `gorm:"not null" json:"quantity"`
	GrossValue       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"gross_value"`
	DiscountPercent  decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"discount_percent"`
	NetValue         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"net_value"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPlacement struct {
	ProductId       int             `json:"product_id" validate:"required,gt=0"`
	StartDate       time.Time       `json:"start_date" validate:"required"`
	EndDate         time.Time       `json:"end_date" validate:"required"`
	Quantity        int             `json:"quantity" validate:"gt=0"`
	GrossValue      decimal.Decimal `json:"gross_value"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// UpdatePlacement is the typed update command; nil fields are left unchanged.
type UpdatePlacement struct {
	ProductId       *int             `json:"product_id" validate:"omitempty,gt=0"`
	StartDate       *time.Time       `json:"start_date"`
	EndDate         *time.Time       `json:"end_date"`
	Quantity        *int             `json:"quantity" validate:"omitempty,gt=0"`
	GrossValue      *decimal.Decimal `json:"gross_value"`
	DiscountPercent *decimal.Decimal `json:"discount_percent"`
}

// ComputeNetValue returns gross × (1 − discount/100).
func ComputeNetValue(gross, discountPercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(discountPercent.Div(hundred))
	return gross.Mul(factor).Round(4)
}

func (p *Placement) validate() error {
	if p.EndDate.Before(p.StartDate) {
		return utils.NewFieldValidation("end_date", "gtefield=start_date")
	}
	if p.Quantity <= 0 {
		return utils.NewFieldValidation("quantity", "gt=0")
	}
	if p.GrossValue.IsNegative() {
		return utils.NewFieldValidation("gross_value", "gte=0")
	}
	if p.DiscountPercent.IsNegative() || p.DiscountPercent.GreaterThan(hundred) {
		return utils.NewFieldValidation("discount_percent", "range=0..100")
	}
	return nil
}

func CreatePlacement(ctx context.Context, db *gorm.DB, orderNumber string, input *NewPlacement) (*Placement, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	placement := Placement{
		ProductId:       input.ProductId,
		StartDate:       input.StartDate,
		EndDate:         input.EndDate,
		Quantity:        input.Quantity,
		GrossValue:      input.GrossValue,
		DiscountPercent: input.DiscountPercent,
	}
	if err := placement.validate(); err != nil {
		return nil, err
	}
	placement.NetValue = ComputeNetValue(placement.GrossValue, placement.DiscountPercent)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := GetInsertionOrder(ctx, tx, orderNumber)
		if err != nil {
			return err
		}
		if err := utils.ValidateResourceId[Product](ctx, tx, "product", input.ProductId); err != nil {
			return err
		}
		placement.InsertionOrderId = order.ID
		if err := tx.Create(&placement).Error; err != nil {
			return utils.ClassifyDBError(err, "placement", order.OrderNumber)
		}
		return SaveHistoryCreate(tx, ReferenceTypePlacement, placement.ID, placement,
			fmt.Sprintf("placement created on PI %s", order.OrderNumber))
	})
	if err != nil {
		return nil, err
	}
	return &placement, nil
}

func UpdatePlacementById(ctx context.Context, db *gorm.DB, id int, cmd *UpdatePlacement) (*Placement, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, err
	}
	var placement *Placement
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		placement, err = utils.FetchModel[Placement](ctx, tx, "placement", id)
		if err != nil {
			return err
		}
		before := *placement
		if cmd.ProductId != nil {
			if err := utils.ValidateResourceId[Product](ctx, tx, "product", *cmd.ProductId); err != nil {
				return err
			}
			placement.ProductId = *cmd.ProductId
		}
		if cmd.StartDate != nil {
			placement.StartDate = *cmd.StartDate
		}
		if cmd.EndDate != nil {
			placement.EndDate = *cmd.EndDate
		}
		if cmd.Quantity != nil {
			placement.Quantity = *cmd.Quantity
		}
		if cmd.GrossValue != nil {
			placement.GrossValue = *cmd.GrossValue
		}
		if cmd.DiscountPercent != nil {
			placement.DiscountPercent = *cmd.DiscountPercent
		}
		if err := placement.validate(); err != nil {
			return err
		}
		placement.NetValue = ComputeNetValue(placement.GrossValue, placement.DiscountPercent)

		if err := tx.Model(&Placement{}).Where("id = ?", id).Updates(map[string]interface{}{
			"product_id":       placement.ProductId,
			"start_date":       placement.StartDate,
			"end_date":         placement.EndDate,
			"quantity":         placement.Quantity,
			"gross_value":      placement.GrossValue,
			"discount_percent": placement.DiscountPercent,
			"net_value":        placement.NetValue,
		}).Error; err != nil {
			return utils.ClassifyDBError(err, "placement", id)
		}
		return SaveHistoryUpdate(tx, ReferenceTypePlacement, id, before, placement, "placement updated")
	})
	if err != nil {
		return nil, err
	}
	return placement, nil
}

func DeletePlacement(ctx context.Context, db *gorm.DB, id int) (*Placement, error) {
	var placement *Placement
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		placement, err = utils.FetchModel[Placement](ctx, tx, "placement", id)
		if err != nil {
			return err
		}
		count, err := utils.ResourceCountWhere[Delivery](ctx, tx, "placement_id = ?", id)
		if err != nil {
			return err
		}
		if count > 0 {
			return utils.NewConflict("placement %d has %d delivery record(s)", id, count)
		}
		if err := tx.Delete(&Placement{}, id).Error; err != nil {
			return utils.ClassifyDBError(err, "placement", id)
		}
		return SaveHistoryDelete(tx, ReferenceTypePlacement, id, placement, "placement deleted")
	})
	if err != nil {
		return nil, err
	}
	return placement, nil
}

func GetPlacement(ctx context.Context, db *gorm.DB, id int) (*Placement, error) {
	return utils.FetchModel[Placement](ctx, db, "placement", id)
}

func ListPlacements(ctx context.Context, db *gorm.DB, orderNumber string) ([]*Placement, error) {
	order, err := GetInsertionOrder(ctx, db, orderNumber)
	if err != nil {
		return nil, err
	}
	var results []*Placement
	err = db.WithContext(ctx).
		Where("insertion_order_id = ?", order.ID).
		Order("start_date ASC, id ASC").
		Find(&results).Error
	return results, err
}
