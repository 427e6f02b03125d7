package utils

import (
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

func mysqlErrorNumber(err error) uint16 {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number
	}
	return 0
}

// IsDuplicateKeyErr matches both the translated gorm error and a raw MySQL 1062.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || mysqlErrorNumber(err) == mysqlErrDuplicateEntry
}

// IsLockContentionErr matches MySQL deadlocks and lock wait timeouts.
func IsLockContentionErr(err error) bool {
	n := mysqlErrorNumber(err)
	return n == mysqlErrDeadlock || n == mysqlErrLockWaitTimeout
}

// ClassifyDBError maps persistence errors onto the domain taxonomy.
// Errors already in the taxonomy pass through untouched.
func ClassifyDBError(err error, entity string, key any) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsDuplicateKey(err) || IsConflict(err) || IsValidation(err) || IsForbidden(err) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewNotFound(entity, key)
	case IsDuplicateKeyErr(err):
		return &DuplicateKeyError{Entity: entity, Field: "key", Value: fmt.Sprint(key)}
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return NewConflict("%s %v is referenced by other records", entity, key)
	case IsLockContentionErr(err):
		return NewTransientConflict("%s %v is busy, retry: %v", entity, key, err)
	}
	return err
}
