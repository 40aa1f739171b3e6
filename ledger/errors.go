/*
errors.go - Centralized error types for the group ledger

PURPOSE:
  All error kinds the engine can return, in one place. Callers classify
  them with errors.Is / errors.As or the helpers at the bottom of the file.

ERROR CATEGORIES:
  1. Authorization - the requester may not perform the operation
  2. Validation    - the request is malformed; nothing was written
  3. Not found     - a referenced group, expense or member does not exist
  4. Consistency   - an internal invariant would be broken; the unit of
                     work is aborted and the error surfaces as internal

USAGE:
  if errors.Is(err, ledger.ErrSplitMismatch) {
      var mm *ledger.SplitMismatchError
      errors.As(err, &mm) // mm.Total, mm.Sum
  }

SEE ALSO:
  - api/handlers.go: maps categories to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Authorization
	ErrNotAdmin  = errors.New("only group admins can perform this operation")
	ErrNotMember = errors.New("requester is not a member of this group")

	// Validation
	ErrNonMember            = errors.New("user is not a member of this group")
	ErrSplitMismatch        = errors.New("split amounts must sum to the total expense amount")
	ErrMissingCustomAmount  = errors.New("amount is required for each split when using custom split type")
	ErrDuplicateParticipant = errors.New("duplicate user IDs found in participants")
	ErrNotConfirmed         = errors.New("settlement must be confirmed to proceed")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrNoParticipants       = errors.New("at least one participant is required")
	ErrInvalidSplitType     = errors.New("invalid split type")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAlreadyMember        = errors.New("user is already a member of this group")
	ErrSoleAdmin            = errors.New("operation would leave the group without an admin")

	// Not found
	ErrGroupNotFound      = errors.New("group not found")
	ErrExpenseNotFound    = errors.New("shared expense not found")
	ErrMemberNotFound     = errors.New("member not found in this group")
	ErrInviteCodeNotFound = errors.New("invalid invite code")

	// Consistency
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NonMemberError names the user that failed the membership check.
type NonMemberError struct {
	GroupID GroupID
	UserID  UserID
}

func (e *NonMemberError) Error() string {
	return fmt.Sprintf("user %s is not a member of group %s", e.UserID, e.GroupID)
}

func (e *NonMemberError) Unwrap() error { return ErrNonMember }

// SplitMismatchError reports a custom split whose shares do not add up.
type SplitMismatchError struct {
	Total decimal.Decimal
	Sum   decimal.Decimal
}

func (e *SplitMismatchError) Error() string {
	return fmt.Sprintf("split amounts sum to %s, expense total is %s", e.Sum, e.Total)
}

func (e *SplitMismatchError) Unwrap() error { return ErrSplitMismatch }

// InvariantError reports a batch of balance changes that would create or
// destroy money.
type InvariantError struct {
	GroupID GroupID
	Sum     decimal.Decimal
	Detail  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated in group %s: %s (sum %s)", e.GroupID, e.Detail, e.Sum)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNonMember) ||
		errors.Is(err, ErrSplitMismatch) ||
		errors.Is(err, ErrMissingCustomAmount) ||
		errors.Is(err, ErrDuplicateParticipant) ||
		errors.Is(err, ErrNotConfirmed) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNoParticipants) ||
		errors.Is(err, ErrInvalidSplitType) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrSoleAdmin)
}

// IsForbidden returns true if the requester lacks permission.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrNotAdmin) || errors.Is(err, ErrNotMember)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrExpenseNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrInviteCodeNotFound)
}

// IsConflict returns true if the request collides with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyMember)
}
