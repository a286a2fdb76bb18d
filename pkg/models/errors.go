package models

import "errors"

// ErrorKind classifies a business-rule failure so the HTTP layer can map it
// to a stable status code without string matching.
type ErrorKind string

const (
	KindInvalidAmount               ErrorKind = "INVALID_AMOUNT"
	KindInvalidLoanParameters       ErrorKind = "INVALID_LOAN_PARAMETERS"
	KindInvalidTransition           ErrorKind = "INVALID_TRANSITION"
	KindLoanNotActive               ErrorKind = "LOAN_NOT_ACTIVE"
	KindOverpaymentRejected         ErrorKind = "OVERPAYMENT_REJECTED"
	KindOutstandingBalanceRemaining ErrorKind = "OUTSTANDING_BALANCE_REMAINING"
	KindLoanHasHistory              ErrorKind = "LOAN_HAS_HISTORY"
	KindInvalidState                ErrorKind = "INVALID_STATE"
	KindConcurrentModification      ErrorKind = "CONCURRENT_MODIFICATION"
	KindNotFound                    ErrorKind = "NOT_FOUND"
)

// DomainError is a typed business-rule failure. These are validation
// outcomes, not transient faults; none of them is retried automatically
// except KindConcurrentModification, which callers may re-attempt once.
type DomainError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error.
func NewDomainError(kind ErrorKind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// Common domain errors.
var (
	ErrLoanNotFound      = NewDomainError(KindNotFound, "loan not found")
	ErrRepaymentNotFound = NewDomainError(KindNotFound, "repayment entry not found")
	ErrAdminNotFound     = NewDomainError(KindNotFound, "admin not found")
	ErrConcurrentUpdate  = NewDomainError(KindConcurrentModification, "record was modified by another request")
)
