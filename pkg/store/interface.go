package store

import (
	"github.com/google/uuid"

	"github.com/patmn/loanbook/pkg/models"
)

// Storage defines the persistence operations for loans, repayment entries
// and admins. UpdateLoan and SaveLoanWithRepayment perform an optimistic
// version check on the loan row: if the stored version no longer matches
// loan.Version the write is refused with models.ErrConcurrentUpdate, so two
// concurrent requests cannot both pass a balance check against stale state.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error)

	CreateRepayment(entry *models.RepaymentEntry) error
	GetRepayment(id uuid.UUID) (*models.RepaymentEntry, error)
	UpdateRepayment(entry *models.RepaymentEntry) error
	DeleteRepayment(id uuid.UUID) error
	GetRepaymentsForLoan(loanID uuid.UUID) ([]*models.RepaymentEntry, error)

	// SaveLoanWithRepayment commits the loan update and the repayment entry
	// (inserted if new, updated otherwise) in a single transaction, so a
	// confirm either fully succeeds or leaves no partial mutation.
	SaveLoanWithRepayment(loan *models.Loan, entry *models.RepaymentEntry) error

	CreateAdmin(admin *models.Admin) error
	FindAdminByEmail(email string) (*models.Admin, error)

	Close() error
}
