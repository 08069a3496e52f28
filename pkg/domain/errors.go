package domain

import (
	"errors"
	"fmt"
)

// Error codes returned to callers as the stable half of the {message, code}
// pair. Every typed error below maps onto exactly one code.
const (
	CodeValidation  = "validation"
	CodeNotFound    = "not_found"
	CodePermission  = "permission_denied"
	CodeConflict    = "conflict"
	CodeTransaction = "transaction"
)

// ValidationError reports malformed or missing required input. It is always
// detected before any write is issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Code returns the wire error code.
func (e ValidationError) Code() string { return CodeValidation }

// NotFoundError reports a missing tree or node.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Code returns the wire error code.
func (e NotFoundError) Code() string { return CodeNotFound }

// PermissionError reports that the acting user lacks rights on the tree.
// It carries zero side effects: permission is checked before any write.
type PermissionError struct {
	UserID string
	TreeID string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("user %s may not modify tree %s", e.UserID, e.TreeID)
}

// Code returns the wire error code.
func (e PermissionError) Code() string { return CodePermission }

// ConflictError reports a mutation that would violate a graph invariant:
// a self-edge, an ancestry cycle, or deleting the tree owner node.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// Code returns the wire error code.
func (e ConflictError) Code() string { return CodeConflict }

// TransactionError reports an infrastructure failure after validation passed.
// The gateway rolls back every write before surfacing it.
type TransactionError struct {
	Op  string
	Err error
}

func (e TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e TransactionError) Unwrap() error { return e.Err }

// Code returns the wire error code.
func (e TransactionError) Code() string { return CodeTransaction }

// Coded is implemented by every typed error carrying a stable wire code.
type Coded interface {
	error
	Code() string
}

// ErrorCode extracts the wire code from err, defaulting to the transaction
// code for untyped infrastructure failures.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var ruleErr RuleViolationError
	if errors.As(err, &ruleErr) {
		return CodeConflict
	}
	return CodeTransaction
}
