// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/appctx"
	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB returns a migrated in-memory database private to t. A single pooled
// connection serializes transactions the way row locks would on MySQL.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg := config.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Ctx is a request context acting as the given user.
func Ctx(userId int, userName string, role models.UserRole) context.Context {
	return utils.SetActorInContext(context.Background(), appctx.Actor{
		ID:       userId,
		Username: userName,
		Name:     userName,
		Role:     string(role),
	})
}

// SeedDelivery creates a product, a Normal PI, a placement and one delivered
// Delivery, returning the delivery.
func SeedDelivery(t testing.TB, ctx context.Context, db *gorm.DB, orderNumber string) *models.Delivery {
	t.Helper()

	product, err := models.CreateProduct(ctx, db, &models.NewProduct{Name: "Banner " + orderNumber})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if _, err := models.CreateNormalInsertionOrder(ctx, db, &models.NewInsertionOrder{
		OrderNumber: orderNumber,
		GrossValue:  decimal.NewFromInt(1000),
		NetValue:    decimal.NewFromInt(800),
		Advertiser:  "ACME",
	}); err != nil {
		t.Fatalf("CreateNormalInsertionOrder: %v", err)
	}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	placement, err := models.CreatePlacement(ctx, db, orderNumber, &models.NewPlacement{
		ProductId:       product.ID,
		StartDate:       start,
		EndDate:         start.AddDate(0, 0, 30),
		Quantity:        1,
		GrossValue:      decimal.NewFromInt(1000),
		DiscountPercent: decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("CreatePlacement: %v", err)
	}
	delivery, err := models.CreateDelivery(ctx, db, placement.ID, &models.NewDelivery{
		DeliveryDate: start.AddDate(0, 0, 5),
		Status:       models.DeliveryStatusYes,
	})
	if err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	return delivery
}

// SeedUser creates an active user with the given role and returns it with a signed token.
func SeedUser(t testing.TB, db *gorm.DB, username string, role models.UserRole) (*models.User, string) {
	t.Helper()

	user, err := models.CreateUser(context.Background(), db, &models.NewUser{
		Username: username,
		Name:     username,
		Password: "s3cret-password",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return user, token
}
