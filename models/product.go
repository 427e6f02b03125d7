package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"gorm.io/gorm"
)

// Product is a sellable ad format referenced by placements.
type Product struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

type UpdateProduct struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func (input *NewProduct) validate(ctx context.Context, db *gorm.DB, id int) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	return utils.ValidateUnique[Product](ctx, db, "product", "name", input.Name, id)
}

func CreateProduct(ctx context.Context, db *gorm.DB, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx, db, 0); err != nil {
		return nil, err
	}

	product := Product{
		Name:        input.Name,
		Description: input.Description,
		IsActive:    utils.NewTrue(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return utils.ClassifyDBError(err, "product", input.Name)
		}
		return SaveHistoryCreate(tx, ReferenceTypeProduct, product.ID, product, "product "+product.Name+" created")
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func UpdateProductById(ctx context.Context, db *gorm.DB, id int, cmd *UpdateProduct) (*Product, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, err
	}
	product, err := utils.FetchModel[Product](ctx, db, "product", id)
	if err != nil {
		return nil, err
	}
	before := *product
	changes := map[string]interface{}{}
	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if err := utils.ValidateUnique[Product](ctx, db, "product", "name", name, id); err != nil {
			return nil, err
		}
		product.Name = name
		changes["name"] = name
	}
	if cmd.Description != nil {
		product.Description = *cmd.Description
		changes["description"] = product.Description
	}
	if cmd.IsActive != nil {
		product.IsActive = cmd.IsActive
		changes["is_active"] = *cmd.IsActive
	}
	if len(changes) == 0 {
		return product, nil
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Product{}).Where("id = ?", id).Updates(changes).Error; err != nil {
			return utils.ClassifyDBError(err, "product", id)
		}
		return SaveHistoryUpdate(tx, ReferenceTypeProduct, id, before, product, "product "+product.Name+" updated")
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func DeleteProduct(ctx context.Context, db *gorm.DB, id int) (*Product, error) {
	var product *Product
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		product, err = utils.FetchModel[Product](ctx, tx, "product", id)
		if err != nil {
			return err
		}
		count, err := utils.ResourceCountWhere[Placement](ctx, tx, "product_id = ?", id)
		if err != nil {
			return err
		}
		if count > 0 {
			return utils.NewConflict("product %s is used by %d placement(s)", product.Name, count)
		}
		if err := tx.Delete(&Product{}, id).Error; err != nil {
			return utils.ClassifyDBError(err, "product", id)
		}
		return SaveHistoryDelete(tx, ReferenceTypeProduct, id, product, fmt.Sprintf("product %s deleted", product.Name))
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func GetProduct(ctx context.Context, db *gorm.DB, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, db, "product", id)
}

func ListProducts(ctx context.Context, db *gorm.DB, activeOnly bool) ([]*Product, error) {
	var results []*Product
	dbCtx := db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
