package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/patmn/loanbook/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string, log *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info("Database connection established and schema initialized")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_key TEXT NOT NULL,
		borrower_email TEXT NOT NULL DEFAULT '',
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		duration_days INTEGER NOT NULL,
		total_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		outstanding_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		date_issued DATETIME,
		due_date DATETIME,
		reject_reason TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date DATETIME NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS admins (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const loanColumns = `id, borrower_key, borrower_email, principal, interest_rate, duration_days, total_amount, amount_paid, outstanding_amount, status, date_issued, due_date, reject_reason, version, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan. The write is refused when the stored
// version no longer matches loan.Version; the in-memory version is bumped on
// success to mirror the row.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(
		`UPDATE loans SET borrower_key = ?, borrower_email = ?, principal = ?, interest_rate = ?, duration_days = ?, total_amount = ?, amount_paid = ?, outstanding_amount = ?, status = ?, date_issued = ?, due_date = ?, reject_reason = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
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

// staleLoanError distinguishes a missing loan from a version conflict.
func (s *SQLiteStore) staleLoanError(id uuid.UUID) error {
	var v int64
	err := s.db.QueryRow(`SELECT version FROM loans WHERE id = ?`, id.String()).Scan(&v)
	if err == sql.ErrNoRows {
		return models.ErrLoanNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check loan version: %w", err)
	}
	return models.ErrConcurrentUpdate
}

// DeleteLoan removes a loan and its repayment entries within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec(`DELETE FROM repayments WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated repayments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
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
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetLoansByStatus retrieves all loans in the given status.
func (s *SQLiteStore) GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at ASC`, status.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get loans by status: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr string
	var dateIssued, dueDate sql.NullTime
	err := row.Scan(
		&idStr, &loan.BorrowerKey, &loan.BorrowerEmail, &loan.Principal, &loan.InterestRate,
		&loan.DurationDays, &loan.TotalAmount, &loan.AmountPaid, &loan.OutstandingAmount, &loan.Status,
		&dateIssued, &dueDate, &loan.RejectReason, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	loan.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", idStr, err)
	}
	if dateIssued.Valid {
		loan.DateIssued = &dateIssued.Time
	}
	if dueDate.Valid {
		loan.DueDate = &dueDate.Time
	}
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

const repaymentColumns = `id, loan_id, amount, date, status, reference, fail_reason, created_at, updated_at`

// CreateRepayment inserts a new repayment entry.
func (s *SQLiteStore) CreateRepayment(entry *models.RepaymentEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO repayments (`+repaymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.LoanID.String(), entry.Amount, entry.Date, entry.Status,
		entry.Reference, entry.FailReason, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repayment entry: %w", err)
	}
	return nil
}

// GetRepayment retrieves a repayment entry by its ID.
func (s *SQLiteStore) GetRepayment(id uuid.UUID) (*models.RepaymentEntry, error) {
	row := s.db.QueryRow(`SELECT `+repaymentColumns+` FROM repayments WHERE id = ?`, id.String())
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
func (s *SQLiteStore) UpdateRepayment(entry *models.RepaymentEntry) error {
	result, err := s.db.Exec(
		`UPDATE repayments SET amount = ?, date = ?, status = ?, reference = ?, fail_reason = ?, updated_at = ? WHERE id = ?`,
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
func (s *SQLiteStore) DeleteRepayment(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM repayments WHERE id = ?`, id.String())
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
func (s *SQLiteStore) GetRepaymentsForLoan(loanID uuid.UUID) ([]*models.RepaymentEntry, error) {
	rows, err := s.db.Query(`SELECT `+repaymentColumns+` FROM repayments WHERE loan_id = ? ORDER BY date ASC`, loanID.String())
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

func scanRepayment(row rowScanner) (*models.RepaymentEntry, error) {
	var entry models.RepaymentEntry
	var idStr, loanIDStr string
	err := row.Scan(
		&idStr, &loanIDStr, &entry.Amount, &entry.Date, &entry.Status,
		&entry.Reference, &entry.FailReason, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid repayment id %q: %w", idStr, err)
	}
	entry.LoanID, err = uuid.Parse(loanIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", loanIDStr, err)
	}
	return &entry, nil
}

// SaveLoanWithRepayment writes the loan (version-checked) and the repayment
// entry in a single transaction. The entry is inserted when it does not
// exist yet and updated otherwise.
func (s *SQLiteStore) SaveLoanWithRepayment(loan *models.Loan, entry *models.RepaymentEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE loans SET amount_paid = ?, outstanding_amount = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		loan.AmountPaid, loan.OutstandingAmount, loan.Status, loan.UpdatedAt,
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

	result, err = tx.Exec(
		`UPDATE repayments SET amount = ?, date = ?, status = ?, reference = ?, fail_reason = ?, updated_at = ? WHERE id = ?`,
		entry.Amount, entry.Date, entry.Status, entry.Reference, entry.FailReason, entry.UpdatedAt,
		entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update repayment entry: %w", err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err = tx.Exec(
			`INSERT INTO repayments (`+repaymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStore) CreateAdmin(admin *models.Admin) error {
	_, err := s.db.Exec(
		`INSERT INTO admins (id, username, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		admin.ID.String(), admin.Username, admin.Email, admin.PasswordHash, admin.CreatedAt, admin.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// FindAdminByEmail retrieves an admin by email.
func (s *SQLiteStore) FindAdminByEmail(email string) (*models.Admin, error) {
	var admin models.Admin
	var idStr string
	err := s.db.QueryRow(
		`SELECT id, username, email, password_hash, created_at, updated_at FROM admins WHERE email = ?`, email,
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
