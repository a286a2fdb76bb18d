package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/patmn/loanbook/internal/auth"
	"github.com/patmn/loanbook/pkg/ledger"
	"github.com/patmn/loanbook/pkg/models"
	"github.com/patmn/loanbook/pkg/money"
	"github.com/patmn/loanbook/pkg/store"
)

// Server holds the ledger and auth services behind the HTTP handlers.
type Server struct {
	ledger  *ledger.Ledger
	auth    *auth.Service
	storage store.Storage // kept so callers can close it
	log     *logrus.Logger
}

func NewServer(s store.Storage, authSvc *auth.Service, ldgr *ledger.Ledger, log *logrus.Logger) *Server {
	return &Server{
		ledger:  ldgr,
		auth:    authSvc,
		storage: s,
		log:     log,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

// writeError maps a domain error kind to a stable HTTP status code:
// 404 missing entity, 422 validation failure, 409 invalid transition or
// state conflict, 500 anything else.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var de *models.DomainError
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		switch de.Kind {
		case models.KindNotFound:
			status = http.StatusNotFound
		case models.KindInvalidAmount, models.KindInvalidLoanParameters, models.KindOverpaymentRejected:
			status = http.StatusUnprocessableEntity
		case models.KindInvalidTransition, models.KindLoanNotActive, models.KindOutstandingBalanceRemaining,
			models.KindLoanHasHistory, models.KindInvalidState, models.KindConcurrentModification:
			status = http.StatusConflict
		}
		s.writeJSON(w, status, de)
		return
	}
	if errors.Is(err, money.ErrInvalidAmount) {
		s.writeJSON(w, http.StatusUnprocessableEntity,
			models.NewDomainError(models.KindInvalidAmount, err.Error()))
		return
	}
	s.log.WithError(err).Error("Internal error")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// retryOnConflict re-attempts an operation once when it lost an optimistic
// concurrency race; business-rule failures are never retried.
func retryOnConflict(fn func() error) error {
	err := fn()
	if models.IsKind(err, models.KindConcurrentModification) {
		return fn()
	}
	return err
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	admin, err := s.auth.Register(req.Username, req.Email, req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(w, http.StatusCreated, admin)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BorrowerKey   string          `json:"borrower_key"`
		BorrowerEmail string          `json:"borrower_email"`
		Principal     money.Money     `json:"principal"`
		InterestRate  decimal.Decimal `json:"interest_rate"`
		DurationDays  int             `json:"duration_days"`
		DateIssued    *time.Time      `json:"date_issued"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, money.ErrInvalidAmount) {
			s.writeError(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(req.BorrowerKey, req.BorrowerEmail, req.Principal, req.InterestRate, req.DurationDays, req.DateIssued)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	status := models.LoanStatus(r.URL.Query().Get("status"))
	loans, err := s.ledger.ListLoans(status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	if err := s.ledger.DeleteLoan(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var loan *models.Loan
	err = retryOnConflict(func() error {
		var opErr error
		loan, opErr = s.ledger.ApproveLoan(id)
		return opErr
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) rejectLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var loan *models.Loan
	err = retryOnConflict(func() error {
		var opErr error
		loan, opErr = s.ledger.RejectLoan(id, req.Reason)
		return opErr
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) defaultLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var loan *models.Loan
	err = retryOnConflict(func() error {
		var opErr error
		loan, opErr = s.ledger.MarkDefaulted(id)
		return opErr
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) completeLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var loan *models.Loan
	err = retryOnConflict(func() error {
		var opErr error
		loan, opErr = s.ledger.CompleteLoan(id)
		return opErr
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	entries, err := s.ledger.ListRepayments(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.RepaymentEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) recordRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount    money.Money `json:"amount"`
		Reference string      `json:"reference"`
		Confirm   bool        `json:"confirm"` // record and confirm in one step
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, money.ErrInvalidAmount) {
			s.writeError(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var entry *models.RepaymentEntry
	err = retryOnConflict(func() error {
		var opErr error
		if req.Confirm {
			entry, opErr = s.ledger.RecordAndConfirmRepayment(id, req.Amount, req.Reference)
		} else {
			entry, opErr = s.ledger.RecordRepayment(id, req.Amount, req.Reference)
		}
		return opErr
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) confirmRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid repayment ID", http.StatusBadRequest)
		return
	}

	var entry *models.RepaymentEntry
	err = retryOnConflict(func() error {
		var opErr error
		entry, opErr = s.ledger.ConfirmRepayment(id)
		return opErr
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) failRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid repayment ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.ledger.FailRepayment(id, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) reverseRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid repayment ID", http.StatusBadRequest)
		return
	}

	if err := s.ledger.ReverseRepayment(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// routes wires all handlers onto the router. Loan and repayment routes sit
// behind the JWT middleware; register/login are public.
func (s *Server) routes(jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/register", s.registerHandler).Methods("POST")
	r.HandleFunc("/login", s.loginHandler).Methods("POST")

	api := r.PathPrefix("/").Subrouter()
	api.Use(auth.Middleware(jwtSecret))
	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	api.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/reject", s.rejectLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/default", s.defaultLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/complete", s.completeLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/repayments", s.listRepaymentsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/repayments", s.recordRepaymentHandler).Methods("POST")
	api.HandleFunc("/repayments/{id}/confirm", s.confirmRepaymentHandler).Methods("POST")
	api.HandleFunc("/repayments/{id}/fail", s.failRepaymentHandler).Methods("POST")
	api.HandleFunc("/repayments/{id}", s.reverseRepaymentHandler).Methods("DELETE")
	return r
}
