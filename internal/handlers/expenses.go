package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"expense-dashboard/internal/apperr"
	"expense-dashboard/internal/models"

	"github.com/shopspring/decimal"
)

type addExpenseRequest struct {
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category" validate:"required,max=100"`
	Description string          `json:"description" validate:"max=500"`
	UserID      *int64          `json:"user_id"`
}

const (
	// maxAmountDigits bounds the integer part of an amount (below one trillion).
	maxAmountDigits = 12
	// amountScale is the number of decimal places an amount may carry.
	amountScale = 2
)

type idResponse struct {
	ID int64 `json:"id"`
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// ownerMatches rejects requests that name a user other than the session user.
func ownerMatches(user *models.User, requested *int64) error {
	if requested != nil && *requested != user.ID {
		return apperr.Forbidden("Cannot access another user's expenses")
	}
	return nil
}

// validateAmount accepts positive amounts in whole cents below one trillion,
// the range that survives storage as a float64 unchanged.
func validateAmount(amt decimal.Decimal) error {
	if !amt.IsPositive() {
		return apperr.Validation("amount must be a positive number")
	}
	// Checked on exponent and digit count first: rounding or comparing a value
	// like 1e1000000000 would materialize the whole coefficient.
	if int(amt.Exponent())+amt.NumDigits() > maxAmountDigits {
		return apperr.Validation("amount must be less than 1000000000000")
	}
	if amt.Exponent() < -20 || !amt.Equal(amt.Round(amountScale)) {
		return apperr.Validation("amount must have at most 2 decimal places")
	}
	return nil
}

// AddExpense records an expense for the session user.
func (h *Handlers) AddExpense(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)

	var req addExpenseRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Date = strings.TrimSpace(req.Date)
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if err := validateStruct(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateAmount(req.Amount); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := ownerMatches(user, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	expense := &models.Expense{
		Date:        req.Date,
		Amount:      req.Amount,
		Category:    req.Category,
		Description: req.Description,
		UserID:      user.ID,
	}
	id, err := h.store.CreateExpense(r.Context(), expense)
	if err != nil {
		h.writeError(w, r, apperr.Internal("Failed to add expense", err))
		return
	}

	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

// ListExpenses returns every expense of the session user, newest first.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		requested, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, apperr.Validation("user_id must be an integer"))
			return
		}
		if err := ownerMatches(user, &requested); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	expenses, err := h.store.ListExpenses(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, apperr.Internal("Failed to fetch expenses", err))
		return
	}

	writeJSON(w, http.StatusOK, expenses)
}

// DeleteExpense removes one of the session user's expenses. An id that does
// not exist, or belongs to someone else, reports deleted 0.
func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, r, apperr.Validation("Invalid expense ID"))
		return
	}

	deleted, err := h.store.DeleteExpense(r.Context(), id, user.ID)
	if err != nil {
		h.writeError(w, r, apperr.Internal("Failed to delete expense", err))
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{Deleted: deleted})
}
