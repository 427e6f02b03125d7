package utils

import (
	"context"

	"gorm.io/gorm"
)

/* DB fetching */

// fetch model by primary key (may return NotFoundError)
func FetchModel[T any](ctx context.Context, db *gorm.DB, entity string, id int, associations ...string) (*T, error) {
	dbCtx := db.WithContext(ctx)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.First(&result, id).Error; err != nil {
		return nil, ClassifyDBError(err, entity, id)
	}
	return &result, nil
}

// fetch model by a unique column (may return NotFoundError)
func FetchModelBy[T any](ctx context.Context, db *gorm.DB, entity string, column string, value any, associations ...string) (*T, error) {
	dbCtx := db.WithContext(ctx)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.Where(column+" = ?", value).First(&result).Error; err != nil {
		return nil, ClassifyDBError(err, entity, value)
	}
	return &result, nil
}
