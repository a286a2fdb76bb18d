package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patmn/loanbook/pkg/money"
)

func validLoan(t *testing.T) *Loan {
	t.Helper()
	loan, err := NewLoan("cust123", "", money.MustFromString("10000"), decimal.NewFromInt(10), 30, nil)
	require.NoError(t, err)
	return loan
}

func TestNewLoan(t *testing.T) {
	loan := validLoan(t)

	assert.Equal(t, LoanStatusPending, loan.Status)
	assert.True(t, loan.TotalAmount.Equal(money.MustFromString("11000")))
	assert.True(t, loan.OutstandingAmount.Equal(loan.TotalAmount))
	assert.True(t, loan.AmountPaid.IsZero())
	assert.Nil(t, loan.DateIssued)
	assert.Nil(t, loan.DueDate)
	assert.EqualValues(t, 0, loan.Version)
}

func TestNewLoanWithIssueDate(t *testing.T) {
	issued := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	loan, err := NewLoan("cust123", "", money.MustFromString("5000"), decimal.Zero, 14, &issued)
	require.NoError(t, err)

	require.NotNil(t, loan.DueDate)
	assert.Equal(t, issued.AddDate(0, 0, 14), *loan.DueDate)
}

func TestNewLoanValidation(t *testing.T) {
	cases := []struct {
		name        string
		borrowerKey string
		principal   money.Money
		rate        decimal.Decimal
		days        int
	}{
		{"empty borrower key", "", money.MustFromString("1000"), decimal.Zero, 30},
		{"zero principal", "cust123", money.Zero(), decimal.Zero, 30},
		{"negative rate", "cust123", money.MustFromString("1000"), decimal.NewFromInt(-5), 30},
		{"zero duration", "cust123", money.MustFromString("1000"), decimal.Zero, 0},
		{"negative duration", "cust123", money.MustFromString("1000"), decimal.Zero, -7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoan(tc.borrowerKey, "", tc.principal, tc.rate, tc.days, nil)
			assert.True(t, IsKind(err, KindInvalidLoanParameters), "got %v", err)
		})
	}
}

func TestTotalAmountIsExact(t *testing.T) {
	// 333.33 at 7.5% must not pick up float noise
	loan, err := NewLoan("cust123", "", money.MustFromString("333.33"), decimal.NewFromFloat(7.5), 30, nil)
	require.NoError(t, err)
	assert.True(t, loan.TotalAmount.Equal(money.MustFromString("358.32975")), "got %s", loan.TotalAmount.Amount())
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    LoanStatus
		to      LoanStatus
		allowed bool
	}{
		{LoanStatusPending, LoanStatusActive, true},
		{LoanStatusPending, LoanStatusRejected, true},
		{LoanStatusPending, LoanStatusCompleted, false},
		{LoanStatusPending, LoanStatusDefaulted, false},
		{LoanStatusActive, LoanStatusCompleted, true},
		{LoanStatusActive, LoanStatusDefaulted, true},
		{LoanStatusActive, LoanStatusPending, false},
		{LoanStatusActive, LoanStatusRejected, false},
		{LoanStatusCompleted, LoanStatusActive, false},
		{LoanStatusDefaulted, LoanStatusActive, false},
		{LoanStatusRejected, LoanStatusActive, false},
		{LoanStatusRejected, LoanStatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, LoanStatusPending.IsValid())
	assert.False(t, LoanStatus("bogus").IsValid())

	assert.False(t, LoanStatusPending.IsTerminal())
	assert.False(t, LoanStatusActive.IsTerminal())
	assert.True(t, LoanStatusCompleted.IsTerminal())
	assert.True(t, LoanStatusDefaulted.IsTerminal())
	assert.True(t, LoanStatusRejected.IsTerminal())
	assert.False(t, LoanStatus("bogus").IsTerminal())
}

func TestApproveSetsDates(t *testing.T) {
	loan := validLoan(t)
	require.NoError(t, loan.Approve())

	assert.Equal(t, LoanStatusActive, loan.Status)
	require.NotNil(t, loan.DateIssued)
	require.NotNil(t, loan.DueDate)
	assert.Equal(t, loan.DateIssued.AddDate(0, 0, 30), *loan.DueDate)
}

func TestApprovePreservesIssueDate(t *testing.T) {
	issued := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	loan, err := NewLoan("cust123", "", money.MustFromString("5000"), decimal.Zero, 14, &issued)
	require.NoError(t, err)

	require.NoError(t, loan.Approve())
	assert.Equal(t, issued, *loan.DateIssued)
}

func TestRejectRecordsReason(t *testing.T) {
	loan := validLoan(t)
	require.NoError(t, loan.Reject("insufficient collateral"))
	assert.Equal(t, LoanStatusRejected, loan.Status)
	assert.Equal(t, "insufficient collateral", loan.RejectReason)

	// Terminal state, nothing moves
	err := loan.Approve()
	assert.True(t, IsKind(err, KindInvalidTransition))
	assert.Equal(t, LoanStatusRejected, loan.Status)
}

func TestMarkCompletedGuards(t *testing.T) {
	loan := validLoan(t)

	// Completing a pending loan is an invalid transition
	err := loan.MarkCompleted()
	assert.True(t, IsKind(err, KindInvalidTransition), "got %v", err)

	require.NoError(t, loan.Approve())

	// An outstanding balance blocks completion
	err = loan.MarkCompleted()
	assert.True(t, IsKind(err, KindOutstandingBalanceRemaining), "got %v", err)
	assert.Equal(t, LoanStatusActive, loan.Status)

	require.NoError(t, loan.RecalculateBalances(loan.TotalAmount))
	require.NoError(t, loan.MarkCompleted())
	assert.Equal(t, LoanStatusCompleted, loan.Status)
}

func TestRecalculateBalances(t *testing.T) {
	loan := validLoan(t)
	require.NoError(t, loan.Approve())

	require.NoError(t, loan.RecalculateBalances(money.MustFromString("6000")))
	assert.True(t, loan.AmountPaid.Equal(money.MustFromString("6000")))
	assert.True(t, loan.OutstandingAmount.Equal(money.MustFromString("5000")))

	err := loan.RecalculateBalances(money.MustFromString("11000.01"))
	assert.True(t, IsKind(err, KindOverpaymentRejected), "got %v", err)
	// Rejected recalculation leaves balances untouched
	assert.True(t, loan.AmountPaid.Equal(money.MustFromString("6000")))
}

func TestIsOverdue(t *testing.T) {
	loan := validLoan(t)
	now := time.Now()

	assert.False(t, loan.IsOverdue(now), "pending loan is never overdue")

	require.NoError(t, loan.Approve())
	assert.False(t, loan.IsOverdue(now))
	assert.True(t, loan.IsOverdue(now.AddDate(0, 0, 31)))
}

func TestRepaymentEntryLifecycle(t *testing.T) {
	entry, err := NewRepaymentEntry(uuid.New(), money.MustFromString("500"), "bank-001")
	require.NoError(t, err)
	assert.Equal(t, RepaymentStatusPending, entry.Status)
	assert.Equal(t, "bank-001", entry.Reference)

	require.NoError(t, entry.Confirm())
	assert.Equal(t, RepaymentStatusCompleted, entry.Status)

	// Completed is terminal in both directions
	assert.True(t, IsKind(entry.Confirm(), KindInvalidState))
	assert.True(t, IsKind(entry.Fail("late"), KindInvalidState))
}

func TestRepaymentEntryFail(t *testing.T) {
	entry, err := NewRepaymentEntry(uuid.New(), money.MustFromString("500"), "")
	require.NoError(t, err)

	require.NoError(t, entry.Fail("transfer bounced"))
	assert.Equal(t, RepaymentStatusFailed, entry.Status)
	assert.Equal(t, "transfer bounced", entry.FailReason)

	assert.True(t, IsKind(entry.Confirm(), KindInvalidState))
}

func TestNewRepaymentEntryRejectsNonPositive(t *testing.T) {
	_, err := NewRepaymentEntry(uuid.New(), money.Zero(), "")
	assert.True(t, IsKind(err, KindInvalidAmount), "got %v", err)
}
