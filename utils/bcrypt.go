package utils

import (
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes
const maxPasswordBytes = 72

func passwordCost() int {
	cost, err := strconv.Atoi(os.Getenv("BCRYPT_COST"))
	if err != nil || cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}

func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", NewFieldValidation("password", "max=72")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost())
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func ComparePassword(hashed string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
}
