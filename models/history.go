package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"gorm.io/gorm"
)

type History struct {
	ID            int           `gorm:"primary_key" json:"id"`
	ActionType    HistoryAction `gorm:"size:10;not null" json:"action_type"`
	Before        string        `gorm:"type:text" json:"before"`
	After         string        `gorm:"type:text" json:"after"`
	Description   string        `gorm:"type:text;not null" json:"description"`
	ReferenceID   int           `gorm:"index:idx_history_ref,priority:2" json:"reference_id"`
	ReferenceType string        `gorm:"size:64;index:idx_history_ref,priority:1" json:"reference_type"`
	UserId        int           `gorm:"index;not null;default:0" json:"user_id"`
	UserName      string        `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

// createHistory writes the audit row on the caller's transaction. The acting user comes
// from the request context; background callers are recorded as "system".
func createHistory(tx *gorm.DB,
	actionType HistoryAction,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	history := History{
		ActionType:    actionType,
		Description:   description,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		UserName:      "system",
	}
	if before != nil {
		b, _ := json.Marshal(before)
		history.Before = string(b)
	}
	if after != nil {
		a, _ := json.Marshal(after)
		history.After = string(a)
	}
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		history.UserId = userId
	}
	if userName, ok := utils.GetUserNameFromContext(ctx); ok && userName != "" {
		history.UserName = userName
	}

	return tx.Create(&history).Error
}

func SaveHistoryCreate(tx *gorm.DB, referenceType string, id int, obj interface{}, description string) error {
	return createHistory(tx, HistoryActionCreate, id, referenceType, nil, obj, description)
}

func SaveHistoryUpdate(tx *gorm.DB, referenceType string, id int, before interface{}, after interface{}, description string) error {
	return createHistory(tx, HistoryActionUpdate, id, referenceType, before, after, description)
}

func SaveHistoryStatus(tx *gorm.DB, referenceType string, id int, before interface{}, after interface{}, description string) error {
	return createHistory(tx, HistoryActionStatus, id, referenceType, before, after, description)
}

func SaveHistoryDelete(tx *gorm.DB, referenceType string, id int, obj interface{}, description string) error {
	return createHistory(tx, HistoryActionDelete, id, referenceType, obj, nil, description)
}

// ListHistory returns the audit trail of one record, newest first.
func ListHistory(ctx context.Context, db *gorm.DB, referenceType string, referenceId int) ([]*History, error) {
	var results []*History
	err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id DESC").
		Find(&results).Error
	return results, err
}
