package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/patmn/loanbook/pkg/models"
	"github.com/patmn/loanbook/pkg/money"
	"github.com/patmn/loanbook/pkg/store"
)

// Notifier delivers best-effort borrower notifications. Delivery failures
// are logged, never propagated into the ledger operation result.
type Notifier interface {
	LoanApproved(loan *models.Loan) error
	LoanCompleted(loan *models.Loan) error
	LoanOverdue(loan *models.Loan) error
}

// Ledger orchestrates the loan lifecycle and the repayment ledger. Every
// public operation validates the transition against the loan's current
// state, applies it, and persists loan and ledger mutations atomically:
// a failed operation leaves no partial state behind.
type Ledger struct {
	storage  store.Storage
	log      *logrus.Logger
	notifier Notifier // optional
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, log *logrus.Logger) *Ledger {
	return &Ledger{storage: s, log: log}
}

// SetNotifier attaches an optional borrower notifier.
func (l *Ledger) SetNotifier(n Notifier) {
	l.notifier = n
}

// CreateLoan validates the parameters and stores a new Pending loan
// application. The total amount (principal plus simple interest) is
// computed once here and never recomputed.
func (l *Ledger) CreateLoan(borrowerKey, borrowerEmail string, principal money.Money, interestRate decimal.Decimal, durationDays int, dateIssued *time.Time) (*models.Loan, error) {
	loan, err := models.NewLoan(borrowerKey, borrowerEmail, principal, interestRate, durationDays, dateIssued)
	if err != nil {
		return nil, err
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"borrower_key": loan.BorrowerKey,
		"total_amount": loan.TotalAmount.String(),
	}).Info("Loan application created")
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// ListLoans retrieves all loans, optionally filtered by status.
func (l *Ledger) ListLoans(status models.LoanStatus) ([]*models.Loan, error) {
	if status == "" {
		return l.storage.GetAllLoans()
	}
	if !status.IsValid() {
		return nil, models.NewDomainError(models.KindInvalidState, "unknown loan status filter: "+status.String())
	}
	return l.storage.GetLoansByStatus(status)
}

// ListRepayments retrieves the repayment ledger for a loan.
func (l *Ledger) ListRepayments(loanID uuid.UUID) ([]*models.RepaymentEntry, error) {
	if _, err := l.storage.GetLoan(loanID); err != nil {
		return nil, err
	}
	return l.storage.GetRepaymentsForLoan(loanID)
}

// ApproveLoan activates a Pending loan application.
func (l *Ledger) ApproveLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := loan.Approve(); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{"loan_id": loan.ID, "due_date": loan.DueDate}).Info("Loan approved")
	l.notify(l.notifierApproved, loan)
	return loan, nil
}

// RejectLoan declines a Pending loan application.
func (l *Ledger) RejectLoan(id uuid.UUID, reason string) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := loan.Reject(reason); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{"loan_id": loan.ID, "reason": reason}).Info("Loan rejected")
	return loan, nil
}

// MarkDefaulted marks an Active loan as defaulted. This is an explicit
// administrative action; the overdue sweep never defaults loans on its own.
func (l *Ledger) MarkDefaulted(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := loan.MarkDefaulted(); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}
	l.log.WithField("loan_id", loan.ID).Warn("Loan marked defaulted")
	return loan, nil
}

// CompleteLoan closes an Active loan whose outstanding balance is zero.
// Completion is never automatic; an admin confirms it even when the last
// repayment cleared the balance.
func (l *Ledger) CompleteLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := loan.MarkCompleted(); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}
	l.log.WithField("loan_id", loan.ID).Info("Loan completed")
	l.notify(l.notifierCompleted, loan)
	return loan, nil
}

// RecordRepayment creates a provisional (Pending) repayment entry against
// an Active loan. Balances are untouched until the entry is confirmed.
// An amount exceeding the outstanding balance is refused outright; the
// caller decides whether to retry with a partial amount.
func (l *Ledger) RecordRepayment(loanID uuid.UUID, amount money.Money, reference string) (*models.RepaymentEntry, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, models.NewDomainError(models.KindLoanNotActive,
			"repayments can only be recorded against an active loan, current status: "+loan.Status.String())
	}
	if !amount.IsPositive() {
		return nil, models.NewDomainError(models.KindInvalidAmount, "repayment amount must be positive")
	}
	if amount.GreaterThan(loan.OutstandingAmount) {
		return nil, models.NewDomainError(models.KindOverpaymentRejected,
			"repayment of "+amount.String()+" exceeds outstanding balance of "+loan.OutstandingAmount.String())
	}

	entry, err := models.NewRepaymentEntry(loanID, amount, reference)
	if err != nil {
		return nil, err
	}
	if err := l.storage.CreateRepayment(entry); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"loan_id":   loanID,
		"entry_id":  entry.ID,
		"amount":    amount.String(),
		"reference": reference,
	}).Info("Repayment recorded")
	return entry, nil
}

// ConfirmRepayment marks a Pending entry Completed and recomputes the
// owning loan's paid and outstanding amounts from the full set of confirmed
// entries. Loan and entry are persisted in one transaction under the loan's
// version check, so two racing confirms cannot both count against a stale
// balance. The loan is not auto-completed when the balance reaches zero.
func (l *Ledger) ConfirmRepayment(entryID uuid.UUID) (*models.RepaymentEntry, error) {
	entry, err := l.storage.GetRepayment(entryID)
	if err != nil {
		return nil, err
	}
	loan, err := l.storage.GetLoan(entry.LoanID)
	if err != nil {
		return nil, err
	}
	if err := entry.Confirm(); err != nil {
		return nil, err
	}

	confirmed, err := l.confirmedTotal(loan.ID, entry)
	if err != nil {
		return nil, err
	}
	if err := loan.RecalculateBalances(confirmed); err != nil {
		return nil, err
	}
	if err := l.storage.SaveLoanWithRepayment(loan, entry); err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":     loan.ID,
		"entry_id":    entry.ID,
		"amount_paid": loan.AmountPaid.String(),
		"outstanding": loan.OutstandingAmount.String(),
	}).Info("Repayment confirmed")
	if loan.OutstandingAmount.IsZero() {
		l.log.WithField("loan_id", loan.ID).Info("Loan fully repaid, eligible for completion")
	}
	return entry, nil
}

// confirmedTotal sums all Completed entries of the loan, counting the entry
// being confirmed exactly once.
func (l *Ledger) confirmedTotal(loanID uuid.UUID, confirming *models.RepaymentEntry) (money.Money, error) {
	entries, err := l.storage.GetRepaymentsForLoan(loanID)
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	counted := false
	for _, e := range entries {
		if e.ID == confirming.ID {
			total = total.Add(confirming.Amount)
			counted = true
			continue
		}
		if e.Status == models.RepaymentStatusCompleted {
			total = total.Add(e.Amount)
		}
	}
	if !counted {
		total = total.Add(confirming.Amount)
	}
	return total, nil
}

// RecordAndConfirmRepayment records a repayment and confirms it in one
// operation, for payments that need no provisional holding period.
func (l *Ledger) RecordAndConfirmRepayment(loanID uuid.UUID, amount money.Money, reference string) (*models.RepaymentEntry, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, models.NewDomainError(models.KindLoanNotActive,
			"repayments can only be recorded against an active loan, current status: "+loan.Status.String())
	}
	if !amount.IsPositive() {
		return nil, models.NewDomainError(models.KindInvalidAmount, "repayment amount must be positive")
	}

	entry, err := models.NewRepaymentEntry(loanID, amount, reference)
	if err != nil {
		return nil, err
	}
	if err := entry.Confirm(); err != nil {
		return nil, err
	}

	confirmed, err := l.confirmedTotal(loan.ID, entry)
	if err != nil {
		return nil, err
	}
	if err := loan.RecalculateBalances(confirmed); err != nil {
		return nil, err
	}
	if err := l.storage.SaveLoanWithRepayment(loan, entry); err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":     loan.ID,
		"entry_id":    entry.ID,
		"amount":      amount.String(),
		"outstanding": loan.OutstandingAmount.String(),
	}).Info("Repayment recorded and confirmed")
	return entry, nil
}

// FailRepayment marks a Pending entry Failed, e.g. after a bounced
// transfer. Failed entries never touch loan balances.
func (l *Ledger) FailRepayment(entryID uuid.UUID, reason string) (*models.RepaymentEntry, error) {
	entry, err := l.storage.GetRepayment(entryID)
	if err != nil {
		return nil, err
	}
	if err := entry.Fail(reason); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateRepayment(entry); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{"entry_id": entry.ID, "reason": reason}).Info("Repayment failed")
	return entry, nil
}

// ReverseRepayment deletes a still-Pending entry, undoing a provisional
// recording. Completed and Failed entries are immutable for audit purposes.
func (l *Ledger) ReverseRepayment(entryID uuid.UUID) error {
	entry, err := l.storage.GetRepayment(entryID)
	if err != nil {
		return err
	}
	if entry.Status != models.RepaymentStatusPending {
		return models.NewDomainError(models.KindInvalidState,
			"only pending repayment entries can be reversed, entry is "+entry.Status.String())
	}
	if err := l.storage.DeleteRepayment(entry.ID); err != nil {
		return err
	}
	l.log.WithField("entry_id", entry.ID).Info("Pending repayment reversed")
	return nil
}

// DeleteLoan removes a loan and its repayment entries. Loans with confirmed
// repayments are never deleted; that would destroy the audit trail.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	entries, err := l.storage.GetRepaymentsForLoan(id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Status == models.RepaymentStatusCompleted {
			return models.NewDomainError(models.KindLoanHasHistory,
				"loan has confirmed repayment entries and cannot be deleted")
		}
	}
	if err := l.storage.DeleteLoan(id); err != nil {
		return err
	}
	l.log.WithField("loan_id", id).Info("Loan deleted")
	return nil
}

// OverdueLoans returns Active loans past their due date.
func (l *Ledger) OverdueLoans() ([]*models.Loan, error) {
	active, err := l.storage.GetLoansByStatus(models.LoanStatusActive)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var overdue []*models.Loan
	for _, loan := range active {
		if loan.IsOverdue(now) {
			overdue = append(overdue, loan)
		}
	}
	return overdue, nil
}

// SweepOverdue logs every overdue Active loan and sends the borrower a
// reminder. It is report-only: defaulting remains an admin decision.
func (l *Ledger) SweepOverdue() {
	overdue, err := l.OverdueLoans()
	if err != nil {
		l.log.WithError(err).Error("Overdue sweep failed")
		return
	}
	for _, loan := range overdue {
		l.log.WithFields(logrus.Fields{
			"loan_id":     loan.ID,
			"due_date":    loan.DueDate,
			"outstanding": loan.OutstandingAmount.String(),
		}).Warn("Loan is overdue")
		l.notify(l.notifierOverdue, loan)
	}
	l.log.WithField("overdue_count", len(overdue)).Info("Overdue sweep complete")
}

func (l *Ledger) notify(fn func(*models.Loan) error, loan *models.Loan) {
	if l.notifier == nil || loan.BorrowerEmail == "" {
		return
	}
	if err := fn(loan); err != nil {
		l.log.WithError(err).WithField("loan_id", loan.ID).Warn("Failed to send borrower notification")
	}
}

func (l *Ledger) notifierApproved(loan *models.Loan) error  { return l.notifier.LoanApproved(loan) }
func (l *Ledger) notifierCompleted(loan *models.Loan) error { return l.notifier.LoanCompleted(loan) }
func (l *Ledger) notifierOverdue(loan *models.Loan) error   { return l.notifier.LoanOverdue(loan) }
