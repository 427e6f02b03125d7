package models

import (
	"gorm.io/gorm"
)

// AllModels lists every table owned by the service, parents first.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Product{},
		&InsertionOrder{},
		&Placement{},
		&Delivery{},
		&Invoice{},
		&InvoiceAttachment{},
		&History{},
		&OutboxEvent{},
		&IdempotencyKey{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
