package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/patmn/loanbook/pkg/models"

	_ "github.com/lib/pq"
)

// PostgresStore implements Storage on top of PostgreSQL. Besides the
// optimistic version check shared with SQLiteStore, the combined
// loan+repayment write takes a row-level lock (SELECT ... FOR UPDATE) so
// concurrent confirms against the same loan are serialized by the database.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresStore connects to PostgreSQL and initializes the schema.
func NewPostgresStore(conn string, log *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &PostgresStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info("Database connection established and schema initialized")
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id UUID PRIMARY KEY,
		borrower_key TEXT NOT NULL,
		borrower_email TEXT NOT NULL DEFAULT '',
		principal NUMERIC NOT NULL,
		interest_rate NUMERIC NOT NULL,
		duration_days INTEGER NOT NULL,
		total_amount NUMERIC NOT NULL,
		amount_paid NUMERIC NOT NULL DEFAULT 0,
		outstanding_amount NUMERIC NOT NULL,
		status TEXT NOT NULL,
		date_issued TIMESTAMPTZ,
		due_date TIMESTAMPTZ,
		reject_reason TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id UUID PRIMARY KEY,
		loan_id UUID NOT NULL REFERENCES loans(id),
		amount NUMERIC NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS admins (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLoan inserts a new loan.
func (s *PostgresStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		loan.ID.String(), loan.BorrowerKey, loan.BorrowerEmail, loan.Principal, loan.InterestRate,
		loan.DurationDays, loan.TotalAmount, loan.AmountPaid, loan.OutstandingAmount, loan.Status,
		loan.DateIssued, loan.DueDate, loan.RejectReason, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *PostgresStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id.String())
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan with an optimistic version check.
func (s *PostgresStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(
		`UPDATE loans SET borrower_key = $1, borrower_email = $2, principal = $3, interest_rate = $4, duration_days = $5, total_amount = $6, amount_paid = $7, outstanding_amount = $8, status = $9, date_issued = $10, due_date = $11, reject_reason = $12, version = version + 1, updated_at = $13
		WHERE id = $14 AND version = $15`,
		loan.BorrowerKey, loan.BorrowerEmail, loan.Principal, loan.InterestRate, loan.DurationDays,
		loan.TotalAmount, loan.AmountPaid, loan.OutstandingAmount, loan.Status, loan.DateIssued,
		loan.DueDate, loan.RejectReason, loan.UpdatedAt,
		loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.staleLoanError(loan.ID)
	}
	loan.Version++
	return nil
}

func (s *PostgresStore) staleLoanError(id uuid.UUID) error {
	var v int64
	err := s.db.QueryRow(`SELECT version FROM loans WHERE id = $1`, id.String()).Scan(&v)
	if err == sql.ErrNoRows {
		return models.ErrLoanNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check loan version: %w", err)
	}
	return models.ErrConcurrentUpdate
}

// DeleteLoan removes a loan and its repayment entries within a transaction.
func (s *PostgresStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec(`DELETE FROM repayments WHERE loan_id = $1`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated repayments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrLoanNotFound
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *PostgresStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetLoansByStatus retrieves all loans in the given status.
func (s *PostgresStore) GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = $1 ORDER BY created_at ASC`, status.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get loans by status: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// CreateRepayment inserts a new repayment entry.
func (s *PostgresStore) CreateRepayment(entry *models.RepaymentEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO repayments (`+repaymentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID.String(), entry.LoanID.String(), entry.Amount, entry.Date, entry.Status,
		entry.Reference, entry.FailReason, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repayment entry: %w", err)
	}
	return nil
}

// GetRepayment retrieves a repayment entry by its ID.
func (s *PostgresStore) GetRepayment(id uuid.UUID) (*models.RepaymentEntry, error) {
	row := s.db.QueryRow(`SELECT `+repaymentColumns+` FROM repayments WHERE id = $1`, id.String())
	entry, err := scanRepayment(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrRepaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repayment entry: %w", err)
	}
	return entry, nil
}

// UpdateRepayment updates an existing repayment entry.
func (s *PostgresStore) UpdateRepayment(entry *models.RepaymentEntry) error {
	result, err := s.db.Exec(
		`UPDATE repayments SET amount = $1, date = $2, status = $3, reference = $4, fail_reason = $5, updated_at = $6 WHERE id = $7`,
		entry.Amount, entry.Date, entry.Status, entry.Reference, entry.FailReason, entry.UpdatedAt,
		entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update repayment entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrRepaymentNotFound
	}
	return nil
}

// DeleteRepayment removes a repayment entry.
func (s *PostgresStore) DeleteRepayment(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM repayments WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete repayment entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrRepaymentNotFound
	}
	return nil
}

// GetRepaymentsForLoan retrieves all repayment entries for a given loan ID.
func (s *PostgresStore) GetRepaymentsForLoan(loanID uuid.UUID) ([]*models.RepaymentEntry, error) {
	rows, err := s.db.Query(`SELECT `+repaymentColumns+` FROM repayments WHERE loan_id = $1 ORDER BY date ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var entries []*models.RepaymentEntry
	for rows.Next() {
		entry, err := scanRepayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan repayments: %w", err)
	}
	return entries, nil
}

// SaveLoanWithRepayment locks the loan row, then writes the loan
// (version-checked) and the repayment entry in one transaction.
func (s *PostgresStore) SaveLoanWithRepayment(loan *models.Loan, entry *models.RepaymentEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var storedVersion int64
	err = tx.QueryRow(`SELECT version FROM loans WHERE id = $1 FOR UPDATE`, loan.ID.String()).Scan(&storedVersion)
	if err == sql.ErrNoRows {
		return models.ErrLoanNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock loan row: %w", err)
	}
	if storedVersion != loan.Version {
		return models.ErrConcurrentUpdate
	}

	if _, err = tx.Exec(
		`UPDATE loans SET amount_paid = $1, outstanding_amount = $2, status = $3, version = version + 1, updated_at = $4 WHERE id = $5`,
		loan.AmountPaid, loan.OutstandingAmount, loan.Status, loan.UpdatedAt, loan.ID.String(),
	); err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}

	result, err := tx.Exec(
		`UPDATE repayments SET amount = $1, date = $2, status = $3, reference = $4, fail_reason = $5, updated_at = $6 WHERE id = $7`,
		entry.Amount, entry.Date, entry.Status, entry.Reference, entry.FailReason, entry.UpdatedAt,
		entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update repayment entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err = tx.Exec(
			`INSERT INTO repayments (`+repaymentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.ID.String(), entry.LoanID.String(), entry.Amount, entry.Date, entry.Status,
			entry.Reference, entry.FailReason, entry.CreatedAt, entry.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert repayment entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	loan.Version++
	return nil
}

// CreateAdmin inserts a new admin.
func (s *PostgresStore) CreateAdmin(admin *models.Admin) error {
	_, err := s.db.Exec(
		`INSERT INTO admins (id, username, email, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		admin.ID.String(), admin.Username, admin.Email, admin.PasswordHash, admin.CreatedAt, admin.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// FindAdminByEmail retrieves an admin by email.
func (s *PostgresStore) FindAdminByEmail(email string) (*models.Admin, error) {
	var admin models.Admin
	var idStr string
	err := s.db.QueryRow(
		`SELECT id, username, email, password_hash, created_at, updated_at FROM admins WHERE email = $1`, email,
	).Scan(&idStr, &admin.Username, &admin.Email, &admin.PasswordHash, &admin.CreatedAt, &admin.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	admin.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid admin id %q: %w", idStr, err)
	}
	return &admin, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
