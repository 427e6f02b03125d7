package models

import (
	"encoding/base64"
	"strconv"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"gorm.io/gorm"
)

type PageInfo struct {
	StartCursor string `json:"startCursor"`
	EndCursor   string `json:"endCursor"`
	HasNextPage *bool  `json:"hasNextPage,omitempty"`
}

func DecodeCursor(cursor *string) (string, error) {
	decodedCursor := ""
	if cursor != nil && *cursor != "" {
		b, err := base64.StdEncoding.DecodeString(*cursor)
		if err != nil {
			return decodedCursor, err
		}
		decodedCursor = string(b)
	}
	return decodedCursor, nil
}

func EncodeCursor(cursor string) string {
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

// paginateById returns rows with id greater than the cursor, ascending.
func paginateById[T any](dbCtx *gorm.DB, cursor *string, limit int, idOf func(*T) int) ([]*T, *PageInfo, error) {
	if limit <= 0 || limit > 200 {
		limit = config.SearchLimit
	}
	decoded, err := DecodeCursor(cursor)
	if err != nil {
		return nil, nil, utils.NewFieldValidation("cursor", "invalid")
	}
	if decoded != "" {
		after, err := strconv.Atoi(decoded)
		if err != nil {
			return nil, nil, utils.NewFieldValidation("cursor", "invalid")
		}
		dbCtx = dbCtx.Where("id > ?", after)
	}

	var results []*T
	if err := dbCtx.Order("id ASC").Limit(limit + 1).Find(&results).Error; err != nil {
		return nil, nil, err
	}

	hasNext := len(results) > limit
	if hasNext {
		results = results[:limit]
	}
	pageInfo := &PageInfo{HasNextPage: &hasNext}
	if len(results) > 0 {
		pageInfo.StartCursor = EncodeCursor(strconv.Itoa(idOf(results[0])))
		pageInfo.EndCursor = EncodeCursor(strconv.Itoa(idOf(results[len(results)-1])))
	}
	return results, pageInfo, nil
}

func PaginateInvoices(dbCtx *gorm.DB, cursor *string, limit int) ([]*Invoice, *PageInfo, error) {
	return paginateById[Invoice](dbCtx, cursor, limit, func(i *Invoice) int { return i.ID })
}
