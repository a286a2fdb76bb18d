package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/patmn/loanbook/pkg/money"
)

// LoanStatus is the closed set of loan lifecycle states.
type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
	LoanStatusDefaulted LoanStatus = "defaulted"
	LoanStatusRejected  LoanStatus = "rejected"
)

// loanTransitions is the single transition table for the loan state machine.
// Pending -> Active | Rejected; Active -> Completed | Defaulted; the rest
// are terminal.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusPending: {LoanStatusActive, LoanStatusRejected},
	LoanStatusActive:  {LoanStatusCompleted, LoanStatusDefaulted},
}

// IsValid checks if the status is a known LoanStatus.
func (s LoanStatus) IsValid() bool {
	switch s {
	case LoanStatusPending, LoanStatusActive, LoanStatusCompleted,
		LoanStatusDefaulted, LoanStatusRejected:
		return true
	}
	return false
}

// IsTerminal returns true if no further transition is possible.
func (s LoanStatus) IsTerminal() bool {
	return s.IsValid() && len(loanTransitions[s]) == 0
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s LoanStatus) String() string {
	return string(s)
}

// Loan is a contract for disbursed principal plus simple interest, repaid
// over time. TotalAmount is computed once at creation and fixed thereafter;
// AmountPaid and OutstandingAmount are derived from the confirmed entries
// of the repayment ledger.
type Loan struct {
	ID                uuid.UUID       `json:"id"`
	BorrowerKey       string          `json:"borrower_key"` // Link to external customer system
	BorrowerEmail     string          `json:"borrower_email,omitempty"`
	Principal         money.Money     `json:"principal"`
	InterestRate      decimal.Decimal `json:"interest_rate"` // Simple interest, percent over the full duration
	DurationDays      int             `json:"duration_days"`
	TotalAmount       money.Money     `json:"total_amount"`
	AmountPaid        money.Money     `json:"amount_paid"`
	OutstandingAmount money.Money     `json:"outstanding_amount"`
	Status            LoanStatus      `json:"status"`
	DateIssued        *time.Time      `json:"date_issued,omitempty"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	RejectReason      string          `json:"reject_reason,omitempty"`
	Version           int64           `json:"version"` // Optimistic-concurrency token
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewLoan validates the loan parameters and builds a Pending loan.
// TotalAmount = principal + principal*rate/100, computed exactly and never
// recomputed afterwards. dateIssued may be nil; Approve fills it in.
func NewLoan(borrowerKey, borrowerEmail string, principal money.Money, interestRate decimal.Decimal, durationDays int, dateIssued *time.Time) (*Loan, error) {
	if borrowerKey == "" {
		return nil, NewDomainError(KindInvalidLoanParameters, "borrower key is required")
	}
	if !principal.IsPositive() {
		return nil, NewDomainError(KindInvalidLoanParameters, "principal must be positive")
	}
	if interestRate.IsNegative() {
		return nil, NewDomainError(KindInvalidLoanParameters, "interest rate must not be negative")
	}
	if durationDays <= 0 {
		return nil, NewDomainError(KindInvalidLoanParameters, "duration must be a positive number of days")
	}

	total := principal.Add(principal.Percent(interestRate))
	now := time.Now()

	loan := &Loan{
		ID:                uuid.New(),
		BorrowerKey:       borrowerKey,
		BorrowerEmail:     borrowerEmail,
		Principal:         principal,
		InterestRate:      interestRate,
		DurationDays:      durationDays,
		TotalAmount:       total,
		AmountPaid:        money.Zero(),
		OutstandingAmount: total,
		Status:            LoanStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if dateIssued != nil {
		issued := *dateIssued
		due := issued.AddDate(0, 0, durationDays)
		loan.DateIssued = &issued
		loan.DueDate = &due
	}
	return loan, nil
}

func (l *Loan) transitionTo(next LoanStatus) error {
	if !l.Status.CanTransitionTo(next) {
		return NewDomainError(KindInvalidTransition,
			fmt.Sprintf("cannot transition loan from %s to %s", l.Status, next))
	}
	l.Status = next
	l.UpdatedAt = time.Now()
	return nil
}

// Approve activates a Pending loan. DateIssued is set to now if the
// application did not carry one, and DueDate is derived from it.
func (l *Loan) Approve() error {
	if err := l.transitionTo(LoanStatusActive); err != nil {
		return err
	}
	if l.DateIssued == nil {
		now := time.Now()
		l.DateIssued = &now
	}
	due := l.DateIssued.AddDate(0, 0, l.DurationDays)
	l.DueDate = &due
	return nil
}

// Reject declines a Pending loan application and records the reason.
func (l *Loan) Reject(reason string) error {
	if err := l.transitionTo(LoanStatusRejected); err != nil {
		return err
	}
	l.RejectReason = reason
	return nil
}

// MarkDefaulted moves an Active loan to Defaulted. Rejecting a pending
// application is a distinct transition; see Reject.
func (l *Loan) MarkDefaulted() error {
	return l.transitionTo(LoanStatusDefaulted)
}

// MarkCompleted closes an Active loan once nothing is outstanding.
func (l *Loan) MarkCompleted() error {
	if l.Status == LoanStatusActive && l.OutstandingAmount.IsPositive() {
		return NewDomainError(KindOutstandingBalanceRemaining,
			fmt.Sprintf("loan still has %s outstanding", l.OutstandingAmount))
	}
	return l.transitionTo(LoanStatusCompleted)
}

// RecalculateBalances sets AmountPaid to the given confirmed total and
// derives OutstandingAmount, floored at zero. A total that exceeds
// TotalAmount is rejected rather than clamped, so the caller decides how
// to handle the excess.
func (l *Loan) RecalculateBalances(confirmedTotal money.Money) error {
	if confirmedTotal.GreaterThan(l.TotalAmount) {
		return NewDomainError(KindOverpaymentRejected,
			fmt.Sprintf("confirmed repayments %s would exceed total amount %s", confirmedTotal, l.TotalAmount))
	}
	l.AmountPaid = confirmedTotal
	l.OutstandingAmount = l.TotalAmount.Sub(confirmedTotal).FloorZero()
	l.UpdatedAt = time.Now()
	return nil
}

// IsOverdue returns true for an Active loan past its due date.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanStatusActive && l.DueDate != nil && now.After(*l.DueDate)
}

// RepaymentStatus is the closed set of repayment entry states.
type RepaymentStatus string

const (
	RepaymentStatusPending   RepaymentStatus = "pending"
	RepaymentStatusCompleted RepaymentStatus = "completed"
	RepaymentStatusFailed    RepaymentStatus = "failed"
)

// IsValid checks if the status is a known RepaymentStatus.
func (s RepaymentStatus) IsValid() bool {
	switch s {
	case RepaymentStatusPending, RepaymentStatusCompleted, RepaymentStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once an entry is Completed or Failed.
func (s RepaymentStatus) IsTerminal() bool {
	return s == RepaymentStatusCompleted || s == RepaymentStatusFailed
}

func (s RepaymentStatus) String() string {
	return string(s)
}

// RepaymentEntry is a single ledger record of money applied against a
// loan's outstanding balance. Entries are owned by their loan, recorded
// provisionally as Pending and later confirmed or failed. A Completed
// entry is immutable for audit purposes.
type RepaymentEntry struct {
	ID         uuid.UUID       `json:"id"`
	LoanID     uuid.UUID       `json:"loan_id"`
	Amount     money.Money     `json:"amount"`
	Date       time.Time       `json:"date"`
	Status     RepaymentStatus `json:"status"`
	Reference  string          `json:"reference,omitempty"` // Free-form external reference, e.g. a bank slip number
	FailReason string          `json:"fail_reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewRepaymentEntry builds a provisional (Pending) ledger entry.
func NewRepaymentEntry(loanID uuid.UUID, amount money.Money, reference string) (*RepaymentEntry, error) {
	if !amount.IsPositive() {
		return nil, NewDomainError(KindInvalidAmount, "repayment amount must be positive")
	}
	now := time.Now()
	return &RepaymentEntry{
		ID:        uuid.New(),
		LoanID:    loanID,
		Amount:    amount,
		Date:      now,
		Status:    RepaymentStatusPending,
		Reference: reference,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Confirm marks a Pending entry Completed. Confirming an entry that is
// already terminal fails so amounts can never be double-counted.
func (e *RepaymentEntry) Confirm() error {
	if e.Status != RepaymentStatusPending {
		return NewDomainError(KindInvalidState,
			fmt.Sprintf("cannot confirm repayment entry in %s status", e.Status))
	}
	e.Status = RepaymentStatusCompleted
	e.UpdatedAt = time.Now()
	return nil
}

// Fail marks a Pending entry Failed, e.g. a bank transfer that bounced
// before confirmation. Failed entries never affect loan balances.
func (e *RepaymentEntry) Fail(reason string) error {
	if e.Status != RepaymentStatusPending {
		return NewDomainError(KindInvalidState,
			fmt.Sprintf("cannot fail repayment entry in %s status", e.Status))
	}
	e.Status = RepaymentStatusFailed
	e.FailReason = reason
	e.UpdatedAt = time.Now()
	return nil
}

// Admin is a back-office user allowed to operate on loans.
type Admin struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
