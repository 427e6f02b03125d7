package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InsertionOrder is a PI. Abatement orders point at their Matrix through
// MatrixOrderNumber; Matrix and Normal orders never carry a parent.
type InsertionOrder struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrderNumber       string          `gorm:"size:50;not null;uniqueIndex" json:"order_number"`
	Kind              OrderKind       `gorm:"size:16;not null;index;index:idx_io_parent_kind,priority:2" json:"kind"`
	MatrixOrderNumber *string         `gorm:"size:50;index:idx_io_parent_kind,priority:1" json:"matrix_order_number"`
	GrossValue        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"gross_value"`
	NetValue          decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"net_value"`
	Campaign          string          `gorm:"size:255" json:"campaign"`
	Advertiser        string          `gorm:"size:255;index" json:"advertiser"`
	Agency            string          `gorm:"size:255" json:"agency"`
	Executive         string          `gorm:"size:255" json:"executive"`
	SaleDate          *time.Time      `json:"sale_date"`
	EmissionDate      *time.Time      `json:"emission_date"`
	Notes             string          `gorm:"type:text" json:"notes"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInsertionOrder struct {
	OrderNumber       string          `json:"order_number" validate:"required,max=50,excludesall=/?#"`
	Kind              OrderKind       `json:"kind"`
	MatrixOrderNumber *string         `json:"matrix_order_number"`
	GrossValue        decimal.Decimal `json:"gross_value"`
	NetValue          decimal.Decimal `json:"net_value"`
	Campaign          string          `json:"campaign" validate:"max=255"`
	Advertiser        string          `json:"advertiser" validate:"max=255"`
	Agency            string          `json:"agency" validate:"max=255"`
	Executive         string          `json:"executive" validate:"max=255"`
	SaleDate          *time.Time      `json:"sale_date"`
	EmissionDate      *time.Time      `json:"emission_date"`
	Notes             string          `json:"notes"`
}

// UpdateInsertionOrder is the typed update command; nil fields are left unchanged.
// Kind and parent are fixed at creation.
type UpdateInsertionOrder struct {
	GrossValue   *decimal.Decimal `json:"gross_value"`
	NetValue     *decimal.Decimal `json:"net_value"`
	Campaign     *string          `json:"campaign" validate:"omitempty,max=255"`
	Advertiser   *string          `json:"advertiser" validate:"omitempty,max=255"`
	Agency       *string          `json:"agency" validate:"omitempty,max=255"`
	Executive    *string          `json:"executive" validate:"omitempty,max=255"`
	SaleDate     *time.Time       `json:"sale_date"`
	EmissionDate *time.Time       `json:"emission_date"`
	Notes        *string          `json:"notes"`
}

func (o InsertionOrder) IsMatrix() bool    { return o.Kind == OrderKindMatrix }
func (o InsertionOrder) IsAbatement() bool { return o.Kind == OrderKindAbatement }

// reservedOrderNumbers collide with static segments under /api/pis.
var reservedOrderNumbers = []string{"matrices"}

func (input *NewInsertionOrder) validate() error {
	input.OrderNumber = strings.TrimSpace(input.OrderNumber)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	for _, reserved := range reservedOrderNumbers {
		if strings.EqualFold(input.OrderNumber, reserved) {
			return utils.NewFieldValidation("order_number", "ne="+reserved)
		}
	}
	if input.GrossValue.IsNegative() {
		return utils.NewFieldValidation("gross_value", "gte=0")
	}
	if input.NetValue.IsNegative() {
		return utils.NewFieldValidation("net_value", "gte=0")
	}
	return nil
}

func (cmd *UpdateInsertionOrder) validate() error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}
	if cmd.GrossValue != nil && cmd.GrossValue.IsNegative() {
		return utils.NewFieldValidation("gross_value", "gte=0")
	}
	if cmd.NetValue != nil && cmd.NetValue.IsNegative() {
		return utils.NewFieldValidation("net_value", "gte=0")
	}
	return nil
}

// BuildInsertionOrder validates input and returns an unsaved order of the given kind.
// kind and parent always come from the caller, never from input.
func BuildInsertionOrder(input *NewInsertionOrder, kind OrderKind, parent *string) (*InsertionOrder, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if kind == OrderKindAbatement && (parent == nil || strings.TrimSpace(*parent) == "") {
		return nil, utils.NewFieldValidation("matrix_order_number", "required")
	}
	if kind != OrderKindAbatement {
		parent = nil
	}
	return &InsertionOrder{
		OrderNumber:       input.OrderNumber,
		Kind:              kind,
		MatrixOrderNumber: parent,
		GrossValue:        input.GrossValue,
		NetValue:          input.NetValue,
		Campaign:          strings.TrimSpace(input.Campaign),
		Advertiser:        strings.TrimSpace(input.Advertiser),
		Agency:            strings.TrimSpace(input.Agency),
		Executive:         strings.TrimSpace(input.Executive),
		SaleDate:          input.SaleDate,
		EmissionDate:      input.EmissionDate,
		Notes:             input.Notes,
	}, nil
}

// EnsureOrderNumberFree returns DuplicateKeyError when orderNumber is already taken by any PI.
func EnsureOrderNumberFree(tx *gorm.DB, orderNumber string) error {
	var count int64
	if err := tx.Model(&InsertionOrder{}).Where("order_number = ?", orderNumber).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return utils.NewDuplicateKey("insertion order", "order_number", orderNumber)
	}
	return nil
}

// InsertInsertionOrder persists order on tx, reporting a taken order number as DuplicateKeyError.
func InsertInsertionOrder(tx *gorm.DB, order *InsertionOrder) error {
	if err := EnsureOrderNumberFree(tx, order.OrderNumber); err != nil {
		return err
	}
	if err := tx.Create(order).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return utils.NewDuplicateKey("insertion order", "order_number", order.OrderNumber)
		}
		return err
	}
	return SaveHistoryCreate(tx, ReferenceTypeInsertionOrder, order.ID, order,
		fmt.Sprintf("%s PI %s created", order.Kind, order.OrderNumber))
}

// CreateNormalInsertionOrder creates a PI without budget relationships.
func CreateNormalInsertionOrder(ctx context.Context, db *gorm.DB, input *NewInsertionOrder) (*InsertionOrder, error) {
	order, err := BuildInsertionOrder(input, OrderKindNormal, nil)
	if err != nil {
		return nil, err
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return InsertInsertionOrder(tx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ApplyInsertionOrderUpdate validates cmd, writes the changed columns onto order and
// records history.
func ApplyInsertionOrderUpdate(tx *gorm.DB, order *InsertionOrder, cmd *UpdateInsertionOrder) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	before := *order
	changes := map[string]interface{}{}
	if cmd.GrossValue != nil {
		order.GrossValue = *cmd.GrossValue
		changes["gross_value"] = order.GrossValue
	}
	if cmd.NetValue != nil {
		order.NetValue = *cmd.NetValue
		changes["net_value"] = order.NetValue
	}
	if cmd.Campaign != nil {
		order.Campaign = strings.TrimSpace(*cmd.Campaign)
		changes["campaign"] = order.Campaign
	}
	if cmd.Advertiser != nil {
		order.Advertiser = strings.TrimSpace(*cmd.Advertiser)
		changes["advertiser"] = order.Advertiser
	}
	if cmd.Agency != nil {
		order.Agency = strings.TrimSpace(*cmd.Agency)
		changes["agency"] = order.Agency
	}
	if cmd.Executive != nil {
		order.Executive = strings.TrimSpace(*cmd.Executive)
		changes["executive"] = order.Executive
	}
	if cmd.SaleDate != nil {
		order.SaleDate = cmd.SaleDate
		changes["sale_date"] = order.SaleDate
	}
	if cmd.EmissionDate != nil {
		order.EmissionDate = cmd.EmissionDate
		changes["emission_date"] = order.EmissionDate
	}
	if cmd.Notes != nil {
		order.Notes = *cmd.Notes
		changes["notes"] = order.Notes
	}
	if len(changes) == 0 {
		return nil
	}
	if err := tx.Model(&InsertionOrder{}).Where("id = ?", order.ID).Updates(changes).Error; err != nil {
		return err
	}
	return SaveHistoryUpdate(tx, ReferenceTypeInsertionOrder, order.ID, before, order,
		fmt.Sprintf("PI %s updated", order.OrderNumber))
}

// DeleteInsertionOrderRow removes order after checking it has no placements.
func DeleteInsertionOrderRow(tx *gorm.DB, order *InsertionOrder) error {
	var placements int64
	if err := tx.Model(&Placement{}).Where("insertion_order_id = ?", order.ID).Count(&placements).Error; err != nil {
		return err
	}
	if placements > 0 {
		return utils.NewConflict("PI %s has %d placement(s)", order.OrderNumber, placements)
	}
	res := tx.Delete(&InsertionOrder{}, order.ID)
	if res.Error != nil {
		return utils.ClassifyDBError(res.Error, "insertion order", order.OrderNumber)
	}
	if res.RowsAffected == 0 {
		return utils.NewNotFound("insertion order", order.OrderNumber)
	}
	return SaveHistoryDelete(tx, ReferenceTypeInsertionOrder, order.ID, order,
		fmt.Sprintf("%s PI %s deleted", order.Kind, order.OrderNumber))
}

func GetInsertionOrder(ctx context.Context, db *gorm.DB, orderNumber string) (*InsertionOrder, error) {
	return utils.FetchModelBy[InsertionOrder](ctx, db, "insertion order", "order_number", strings.TrimSpace(orderNumber))
}

// FindAbatements lists the Abatement children of a Matrix ordered by order number.
func FindAbatements(db *gorm.DB, matrixOrderNumber string) ([]*InsertionOrder, error) {
	var children []*InsertionOrder
	err := db.
		Where("matrix_order_number = ? AND kind = ?", matrixOrderNumber, OrderKindAbatement).
		Order("order_number ASC").
		Find(&children).Error
	return children, err
}

type InsertionOrderFilter struct {
	Kind       *OrderKind
	Search     string
	Advertiser string
	Cursor     *string
	Limit      int
}

// ListInsertionOrders pages through PIs by id.
func ListInsertionOrders(ctx context.Context, db *gorm.DB, filter InsertionOrderFilter) ([]*InsertionOrder, *PageInfo, error) {
	dbCtx := db.WithContext(ctx).Model(&InsertionOrder{})
	if filter.Kind != nil {
		dbCtx = dbCtx.Where("kind = ?", *filter.Kind)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + s + "%"
		dbCtx = dbCtx.Where("order_number LIKE ? OR campaign LIKE ? OR advertiser LIKE ?", like, like, like)
	}
	if a := strings.TrimSpace(filter.Advertiser); a != "" {
		dbCtx = dbCtx.Where("advertiser = ?", a)
	}
	return paginateById[InsertionOrder](dbCtx, filter.Cursor, filter.Limit, func(o *InsertionOrder) int { return o.ID })
}
