package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// NotFoundError reports a missing entity looked up by key.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrorRecordNotFound
}

// DuplicateKeyError reports a write that would break a uniqueness rule.
type DuplicateKeyError struct {
	Entity string
	Field  string
	Value  string
}

func (e *DuplicateKeyError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("duplicate %s %s", e.Entity, e.Field)
	}
	return fmt.Sprintf("duplicate %s %s: %s", e.Entity, e.Field, e.Value)
}

// ConflictError reports a business-rule or concurrency conflict. Transient conflicts
// (lock timeouts, deadlocks) can be retried by the caller unchanged.
type ConflictError struct {
	Message   string
	Transient bool
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ValidationError reports malformed input. Fields maps a field name to the failed rule.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	msg := e.Message
	if msg == "" {
		msg = "validation failed"
	}
	return msg + " (" + strings.Join(parts, ", ") + ")"
}

// ForbiddenError reports an authenticated caller lacking the role for an action.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func NewNotFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func NewDuplicateKey(entity, field string, value any) error {
	return &DuplicateKeyError{Entity: entity, Field: field, Value: fmt.Sprint(value)}
}

func NewConflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func NewTransientConflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...), Transient: true}
}

func NewValidation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func NewFieldValidation(field, rule string) error {
	return &ValidationError{Message: "validation failed", Fields: map[string]string{field: rule}}
}

func NewForbidden(format string, args ...any) error {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsDuplicateKey(err error) bool {
	var e *DuplicateKeyError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsTransientConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e) && e.Transient
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}
