// seed-admin creates the first admin login, or resets its password when it exists.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	ADMIN_USERNAME=adopsAdmin ADMIN_PASSWORD=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/appctx"
	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"gorm.io/gorm"
)

const defaultAdminUsername = "adopsAdmin"

func main() {
	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = defaultAdminUsername
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD must be set (min 8 characters)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	db, err := config.ConnectDatabaseWithRetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not reachable: %v\n", err)
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	ctx = utils.SetActorInContext(ctx, appctx.Actor{Name: "Seed"})

	var existing models.User
	err = db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user, err := models.CreateUser(ctx, db, &models.NewUser{
			Username: username,
			Name:     "Ad Ops Admin",
			Password: password,
			Role:     models.UserRoleAdmin,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created admin user %s (id=%d)\n", user.Username, user.ID)
	case err != nil:
		fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
		os.Exit(1)
	default:
		hashed, err := utils.HashPassword(password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		err = db.WithContext(ctx).Model(&models.User{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"password":  hashed,
			"role":      models.UserRoleAdmin,
			"is_active": true,
		}).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to update admin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("updated admin user %s (id=%d)\n", existing.Username, existing.ID)
	}
}
