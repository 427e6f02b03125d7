package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/appctx"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     *string   `gorm:"size:100;uniqueIndex" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"password,omitempty"`
	Role      UserRole  `gorm:"size:20;not null;default:'comercial'" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" validate:"required,max=100"`
	Name     string   `json:"name" validate:"required,max=100"`
	Email    string   `json:"email" validate:"omitempty,email,max=100"`
	Phone    string   `json:"phone" validate:"max=20"`
	Password string   `json:"password" validate:"required,min=8"`
	Role     UserRole `json:"role" validate:"required"`
}

type LoginInfo struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

/*
caches:
	User:$id
*/

func UserCacheKey(id int) string {
	return fmt.Sprintf("User:%d", id)
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func (user User) Actor() appctx.Actor {
	return appctx.Actor{ID: user.ID, Username: user.Username, Name: user.Name, Role: string(user.Role)}
}

func (user User) Active() bool {
	return user.IsActive != nil && *user.IsActive
}

func (input *NewUser) validate(ctx context.Context, db *gorm.DB) error {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Role.IsValid() {
		return utils.NewFieldValidation("role", "oneof=admin financeiro opec comercial")
	}
	if input.Phone != "" {
		phone, err := utils.FormatPhoneNumber(input.Phone, utils.CountryCode)
		if err != nil {
			return utils.NewFieldValidation("phone", "phone")
		}
		input.Phone = phone
	}
	if err := utils.ValidateUnique[User](ctx, db, "user", "username", input.Username, 0); err != nil {
		return err
	}
	if input.Email != "" {
		if err := utils.ValidateUnique[User](ctx, db, "user", "email", input.Email, 0); err != nil {
			return err
		}
	}
	return nil
}

func CreateUser(ctx context.Context, db *gorm.DB, input *NewUser) (*User, error) {
	if err := input.validate(ctx, db); err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := User{
		Username: input.Username,
		Name:     input.Name,
		Phone:    input.Phone,
		Password: hashed,
		Role:     input.Role,
		IsActive: utils.NewTrue(),
	}
	if input.Email != "" {
		user.Email = &input.Email
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return utils.ClassifyDBError(err, "user", input.Username)
		}
		return SaveHistoryCreate(tx, ReferenceTypeUser, user.ID, map[string]any{"username": user.Username, "role": user.Role},
			"user "+user.Username+" created")
	})
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

// SetUserActive enables or disables a login.
func SetUserActive(ctx context.Context, db *gorm.DB, id int, isActive bool) (*User, error) {
	user, err := utils.FetchModel[User](ctx, db, "user", id)
	if err != nil {
		return nil, err
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&User{}).Where("id = ?", id).Update("is_active", isActive).Error; err != nil {
			return err
		}
		return SaveHistoryUpdate(tx, ReferenceTypeUser, id, map[string]any{"is_active": user.Active()}, map[string]any{"is_active": isActive},
			"user "+user.Username+" active flag changed")
	})
	if err != nil {
		return nil, err
	}
	user.IsActive = &isActive
	user.PrepareGive()
	return user, nil
}

func GetUser(ctx context.Context, db *gorm.DB, id int) (*User, error) {
	user, err := utils.FetchModel[User](ctx, db, "user", id)
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}

func ListUsers(ctx context.Context, db *gorm.DB) ([]*User, error) {
	var users []*User
	if err := db.WithContext(ctx).Order("username ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		u.PrepareGive()
	}
	return users, nil
}

var ErrInvalidCredentials = errors.New("invalid username or password")

// Login checks credentials and issues a JWT carrying the user's role.
func Login(ctx context.Context, db *gorm.DB, username string, password string) (*LoginInfo, error) {
	var user User
	err := db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := utils.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active() {
		return nil, utils.NewForbidden("user is disabled")
	}

	token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &LoginInfo{Token: token, User: &user}, nil
}
