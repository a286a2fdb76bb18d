package notify

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/patmn/loanbook/internal/config"
	"github.com/patmn/loanbook/pkg/models"
)

// Sender delivers borrower emails via SMTP. It implements ledger.Notifier.
type Sender struct {
	cfg *config.Config
	log *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, log *logrus.Logger) *Sender {
	return &Sender{cfg: cfg, log: log}
}

// LoanApproved notifies the borrower that their loan has been disbursed.
func (s *Sender) LoanApproved(loan *models.Loan) error {
	body := fmt.Sprintf(
		"Dear customer,\n\n"+
			"Your loan of %s has been approved and disbursed.\n"+
			"Total amount repayable: %s\n"+
			"Due date: %s\n",
		loan.Principal, loan.TotalAmount, loan.DueDate.Format("2006-01-02"),
	)
	return s.send(loan.BorrowerEmail, "Loan Approved", body)
}

// LoanCompleted notifies the borrower that their loan is fully repaid.
func (s *Sender) LoanCompleted(loan *models.Loan) error {
	body := fmt.Sprintf(
		"Dear customer,\n\n"+
			"Your loan of %s has been fully repaid and is now closed.\n"+
			"Thank you for your business.\n",
		loan.TotalAmount,
	)
	return s.send(loan.BorrowerEmail, "Loan Completed", body)
}

// LoanOverdue reminds the borrower of an outstanding balance past due.
func (s *Sender) LoanOverdue(loan *models.Loan) error {
	body := fmt.Sprintf(
		"Dear customer,\n\n"+
			"Your loan repayment of %s was due on %s and is now overdue.\n"+
			"Please make a payment as soon as possible.\n",
		loan.OutstandingAmount, loan.DueDate.Format("2006-01-02"),
	)
	return s.send(loan.BorrowerEmail, "Overdue Loan Payment Notification", body)
}

func (s *Sender) send(to, subject, body string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body + "\nBest regards,\nLoanbook")

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.log.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.log.Infof("Email sent to %s: %s", to, subject)
	return nil
}
