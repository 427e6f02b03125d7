package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"gorm.io/gorm"
)

// Delivery ("entrega") records whether a placement ran on a given date.
type Delivery struct {
	ID           int            `gorm:"primary_key" json:"id"`
	PlacementId  int            `gorm:"not null;index" json:"placement_id"`
	DeliveryDate time.Time      `gorm:"not null" json:"delivery_date"`
	Status       DeliveryStatus `gorm:"size:10;not null;default:'pendente'" json:"status"`
	Reason       *string        `gorm:"type:text" json:"reason"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDelivery struct {
	DeliveryDate time.Time      `json:"delivery_date" validate:"required"`
	Status       DeliveryStatus `json:"status"`
	Reason       *string        `json:"reason"`
}

// UpdateDelivery is the typed update command; nil fields are left unchanged.
type UpdateDelivery struct {
	DeliveryDate *time.Time      `json:"delivery_date"`
	Status       *DeliveryStatus `json:"status"`
	Reason       *string         `json:"reason"`
}

func (d *Delivery) validate() error {
	if !d.Status.IsValid() {
		return utils.NewFieldValidation("status", "oneof=Sim Não pendente")
	}
	d.Reason = utils.TrimPtr(d.Reason)
	if d.Status == DeliveryStatusNo && d.Reason == nil {
		return utils.NewFieldValidation("reason", "required_if=status Não")
	}
	return nil
}

func CreateDelivery(ctx context.Context, db *gorm.DB, placementId int, input *NewDelivery) (*Delivery, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	delivery := Delivery{
		PlacementId:  placementId,
		DeliveryDate: input.DeliveryDate,
		Status:       input.Status,
		Reason:       input.Reason,
	}
	if strings.TrimSpace(string(delivery.Status)) == "" {
		delivery.Status = DeliveryStatusPending
	}
	if err := delivery.validate(); err != nil {
		return nil, err
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.ValidateResourceId[Placement](ctx, tx, "placement", placementId); err != nil {
			return err
		}
		if err := tx.Create(&delivery).Error; err != nil {
			return utils.ClassifyDBError(err, "delivery", placementId)
		}
		return SaveHistoryCreate(tx, ReferenceTypeDelivery, delivery.ID, delivery,
			fmt.Sprintf("delivery %s recorded for placement %d", delivery.Status, placementId))
	})
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func UpdateDeliveryById(ctx context.Context, db *gorm.DB, id int, cmd *UpdateDelivery) (*Delivery, error) {
	var delivery *Delivery
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		delivery, err = utils.FetchModel[Delivery](ctx, tx, "delivery", id)
		if err != nil {
			return err
		}
		before := *delivery
		if cmd.DeliveryDate != nil {
			delivery.DeliveryDate = *cmd.DeliveryDate
		}
		if cmd.Status != nil {
			delivery.Status = *cmd.Status
		}
		if cmd.Reason != nil {
			delivery.Reason = cmd.Reason
		}
		if err := delivery.validate(); err != nil {
			return err
		}
		if err := tx.Model(&Delivery{}).Where("id = ?", id).Updates(map[string]interface{}{
			"delivery_date": delivery.DeliveryDate,
			"status":        delivery.Status,
			"reason":        delivery.Reason,
		}).Error; err != nil {
			return utils.ClassifyDBError(err, "delivery", id)
		}
		return SaveHistoryUpdate(tx, ReferenceTypeDelivery, id, before, delivery, "delivery updated")
	})
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

func DeleteDelivery(ctx context.Context, db *gorm.DB, id int) (*Delivery, error) {
	var delivery *Delivery
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		delivery, err = utils.FetchModel[Delivery](ctx, tx, "delivery", id)
		if err != nil {
			return err
		}
		count, err := utils.ResourceCountWhere[Invoice](ctx, tx, "delivery_id = ?", id)
		if err != nil {
			return err
		}
		if count > 0 {
			return utils.NewConflict("delivery %d already has an invoice", id)
		}
		if err := tx.Delete(&Delivery{}, id).Error; err != nil {
			return utils.ClassifyDBError(err, "delivery", id)
		}
		return SaveHistoryDelete(tx, ReferenceTypeDelivery, id, delivery, "delivery deleted")
	})
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

func GetDelivery(ctx context.Context, db *gorm.DB, id int) (*Delivery, error) {
	return utils.FetchModel[Delivery](ctx, db, "delivery", id)
}

func ListDeliveries(ctx context.Context, db *gorm.DB, placementId int) ([]*Delivery, error) {
	if err := utils.ValidateResourceId[Placement](ctx, db, "placement", placementId); err != nil {
		return nil, err
	}
	var results []*Delivery
	err := db.WithContext(ctx).
		Where("placement_id = ?", placementId).
		Order("delivery_date ASC, id ASC").
		Find(&results).Error
	return results, err
}
