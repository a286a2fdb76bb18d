package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/patmn/loanbook/internal/auth"
	"github.com/patmn/loanbook/pkg/ledger"
	"github.com/patmn/loanbook/pkg/models"
	"github.com/patmn/loanbook/pkg/money"
	"github.com/patmn/loanbook/pkg/store"
)

const testJWTSecret = "test-secret"

func setupTestServer(t *testing.T) (*mux.Router, string) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	storage, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), log)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	ldgr := ledger.NewLedger(storage, log)
	authSvc := auth.NewService(storage, log, testJWTSecret)
	server := NewServer(storage, authSvc, ldgr, log)
	router := server.routes(testJWTSecret)

	if _, err := authSvc.Register("ops", "ops@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Failed to register admin: %v", err)
	}
	token, err := authSvc.Login("ops@example.com", "s3cretpass")
	if err != nil {
		t.Fatalf("Failed to login: %v", err)
	}
	return router, token
}

func doRequest(t *testing.T, router *mux.Router, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeLoan(t *testing.T, rr *httptest.ResponseRecorder) models.Loan {
	t.Helper()
	var loan models.Loan
	if err := json.NewDecoder(rr.Body).Decode(&loan); err != nil {
		t.Fatalf("Failed to decode loan response: %v", err)
	}
	return loan
}

func createTestLoan(t *testing.T, router *mux.Router, token string) models.Loan {
	t.Helper()
	rr := doRequest(t, router, token, "POST", "/loans", map[string]any{
		"borrower_key":  "cust123",
		"principal":     "10000",
		"interest_rate": "10",
		"duration_days": 30,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating loan, got %d: %s", rr.Code, rr.Body.String())
	}
	return decodeLoan(t, rr)
}

func TestAuthRequired(t *testing.T) {
	router, _ := setupTestServer(t)

	rr := doRequest(t, router, "", "GET", "/loans", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rr.Code)
	}

	rr = doRequest(t, router, "not-a-token", "GET", "/loans", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with bad token, got %d", rr.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	router, _ := setupTestServer(t)

	rr := doRequest(t, router, "", "POST", "/login", map[string]string{
		"email":    "ops@example.com",
		"password": "s3cretpass",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on login, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["token"] == "" {
		t.Fatal("Expected a token in the login response")
	}

	rr = doRequest(t, router, "", "POST", "/login", map[string]string{
		"email":    "ops@example.com",
		"password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong password, got %d", rr.Code)
	}
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	router, token := setupTestServer(t)

	loan := createTestLoan(t, router, token)
	if loan.Status != models.LoanStatusPending {
		t.Errorf("Expected pending loan, got %s", loan.Status)
	}
	if !loan.TotalAmount.Equal(money.MustFromString("11000")) {
		t.Errorf("Expected total 11000, got %s", loan.TotalAmount)
	}

	rr := doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 approving loan, got %d: %s", rr.Code, rr.Body.String())
	}
	approved := decodeLoan(t, rr)
	if approved.Status != models.LoanStatusActive {
		t.Errorf("Expected active loan, got %s", approved.Status)
	}
	if approved.DueDate == nil {
		t.Error("Expected due date after approval")
	}

	// Record-and-confirm a repayment in one call
	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{
		"amount":  "11000",
		"confirm": true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 recording repayment, got %d: %s", rr.Code, rr.Body.String())
	}
	var entry models.RepaymentEntry
	json.NewDecoder(rr.Body).Decode(&entry)
	if entry.Status != models.RepaymentStatusCompleted {
		t.Errorf("Expected completed entry, got %s", entry.Status)
	}

	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/complete", loan.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 completing loan, got %d: %s", rr.Code, rr.Body.String())
	}
	completed := decodeLoan(t, rr)
	if completed.Status != models.LoanStatusCompleted {
		t.Errorf("Expected completed loan, got %s", completed.Status)
	}
	if !completed.OutstandingAmount.IsZero() {
		t.Errorf("Expected outstanding 0, got %s", completed.OutstandingAmount)
	}
}

func TestProvisionalRepaymentFlow(t *testing.T) {
	router, token := setupTestServer(t)
	loan := createTestLoan(t, router, token)
	doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), nil)

	rr := doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{
		"amount":    "6000",
		"reference": "bank-001",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var entry models.RepaymentEntry
	json.NewDecoder(rr.Body).Decode(&entry)
	if entry.Status != models.RepaymentStatusPending {
		t.Errorf("Expected pending entry, got %s", entry.Status)
	}

	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/repayments/%s/confirm", entry.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 confirming, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, router, token, "GET", fmt.Sprintf("/loans/%s", loan.ID), nil)
	got := decodeLoan(t, rr)
	if !got.AmountPaid.Equal(money.MustFromString("6000")) {
		t.Errorf("Expected amount paid 6000, got %s", got.AmountPaid)
	}
	if !got.OutstandingAmount.Equal(money.MustFromString("5000")) {
		t.Errorf("Expected outstanding 5000, got %s", got.OutstandingAmount)
	}

	// Double confirm is a state conflict
	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/repayments/%s/confirm", entry.ID), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 on double confirm, got %d", rr.Code)
	}

	rr = doRequest(t, router, token, "GET", fmt.Sprintf("/loans/%s/repayments", loan.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 listing repayments, got %d", rr.Code)
	}
	var entries []models.RepaymentEntry
	json.NewDecoder(rr.Body).Decode(&entries)
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(entries))
	}
}

func TestFailAndReverseRepayment(t *testing.T) {
	router, token := setupTestServer(t)
	loan := createTestLoan(t, router, token)
	doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), nil)

	rr := doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{"amount": "500"})
	var entry models.RepaymentEntry
	json.NewDecoder(rr.Body).Decode(&entry)

	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/repayments/%s/fail", entry.ID), map[string]string{"reason": "bounced"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 failing entry, got %d: %s", rr.Code, rr.Body.String())
	}

	// Reversing a terminal entry conflicts; reversing a pending one succeeds
	rr = doRequest(t, router, token, "DELETE", fmt.Sprintf("/repayments/%s", entry.ID), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 reversing failed entry, got %d", rr.Code)
	}

	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{"amount": "500"})
	json.NewDecoder(rr.Body).Decode(&entry)
	rr = doRequest(t, router, token, "DELETE", fmt.Sprintf("/repayments/%s", entry.ID), nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204 reversing pending entry, got %d", rr.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	router, token := setupTestServer(t)

	// 404 for a missing loan
	rr := doRequest(t, router, token, "GET", "/loans/0b2cbb49-3ba5-4e0a-8f25-17c117bc92a1", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing loan, got %d", rr.Code)
	}

	// 422 for invalid parameters
	rr = doRequest(t, router, token, "POST", "/loans", map[string]any{
		"borrower_key":  "cust123",
		"principal":     "0",
		"interest_rate": "10",
		"duration_days": 30,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for zero principal, got %d", rr.Code)
	}
	var de models.DomainError
	json.NewDecoder(rr.Body).Decode(&de)
	if de.Kind != models.KindInvalidLoanParameters {
		t.Errorf("Expected kind %s, got %s", models.KindInvalidLoanParameters, de.Kind)
	}

	loan := createTestLoan(t, router, token)

	// 409 for a repayment against a non-active loan
	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{"amount": "100"})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 for repayment on pending loan, got %d", rr.Code)
	}

	doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), nil)

	// 409 for an invalid transition
	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 approving twice, got %d", rr.Code)
	}

	// 422 for an overpayment
	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{"amount": "99999"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for overpayment, got %d", rr.Code)
	}

	// 409 for completing with an outstanding balance
	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/complete", loan.ID), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 completing with balance outstanding, got %d", rr.Code)
	}

	// 422 for a negative amount in the payload
	rr = doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{"amount": "-5"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for negative amount, got %d", rr.Code)
	}
}

func TestDeleteLoanOverHTTP(t *testing.T) {
	router, token := setupTestServer(t)
	loan := createTestLoan(t, router, token)
	doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), nil)

	// A confirmed repayment blocks deletion
	doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), map[string]any{
		"amount":  "100",
		"confirm": true,
	})
	rr := doRequest(t, router, token, "DELETE", fmt.Sprintf("/loans/%s", loan.ID), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 deleting loan with history, got %d", rr.Code)
	}

	fresh := createTestLoan(t, router, token)
	rr = doRequest(t, router, token, "DELETE", fmt.Sprintf("/loans/%s", fresh.ID), nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204 deleting fresh loan, got %d", rr.Code)
	}
	rr = doRequest(t, router, token, "GET", fmt.Sprintf("/loans/%s", fresh.ID), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after deletion, got %d", rr.Code)
	}
}

func TestListLoansFilter(t *testing.T) {
	router, token := setupTestServer(t)

	first := createTestLoan(t, router, token)
	createTestLoan(t, router, token)
	doRequest(t, router, token, "POST", fmt.Sprintf("/loans/%s/approve", first.ID), nil)

	rr := doRequest(t, router, token, "GET", "/loans?status=active", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var loans []models.Loan
	json.NewDecoder(rr.Body).Decode(&loans)
	if len(loans) != 1 {
		t.Errorf("Expected 1 active loan, got %d", len(loans))
	}

	// Unknown filter values are refused, not silently empty
	rr = doRequest(t, router, token, "GET", "/loans?status=bogus", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 for unknown status filter, got %d", rr.Code)
	}
}
