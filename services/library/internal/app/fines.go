package app

import (
	"context"
	"fmt"

	"libraryhub/pkg/domain"
	"libraryhub/pkg/events"
	"libraryhub/pkg/store"
)

// FineQuote is a fine computed on demand for a loan without persisting it.
type FineQuote struct {
	LoanID         uint  `json:"loanId"`
	DaysLate       int   `json:"daysLate"`
	DailyRateCents int64 `json:"dailyRateCents"`
	AmountCents    int64 `json:"amountCents"`
	// FineID is set when a fine was already assessed for the loan.
	FineID uint `json:"fineId,omitempty"`
}

type fineEvent struct {
	FineID      uint  `json:"fineId"`
	LoanID      uint  `json:"loanId"`
	UserID      uint  `json:"userId"`
	AmountCents int64 `json:"amountCents"`
	DaysLate    int   `json:"daysLate"`
}

func newFineEvent(f domain.Fine) fineEvent {
	return fineEvent{
		FineID:      f.ID,
		LoanID:      f.LoanID,
		UserID:      f.UserID,
		AmountCents: f.AmountCents,
		DaysLate:    f.DaysLate,
	}
}

// ComputeFine returns the whole days late and the amount owed for a loan,
// measured at its return or, while open, at the current time.
func (a *App) ComputeFine(loan domain.Loan) (int, int64) {
	at := a.now()
	if loan.ReturnedAt != nil {
		at = *loan.ReturnedAt
	}
	days := domain.DaysLate(loan.DueDate, at)
	return days, domain.FineAmount(days, a.fineRate)
}

// CalculateFine quotes the fine for a loan.
func (a *App) CalculateFine(ctx context.Context, loanID uint) (FineQuote, error) {
	view, ok, err := a.store.GetLoan(ctx, loanID)
	if err != nil {
		return FineQuote{}, fmt.Errorf("fetch loan: %w", err)
	}
	if !ok {
		return FineQuote{}, notFound("loan", loanID)
	}
	days, amount := a.ComputeFine(view.Loan)
	quote := FineQuote{LoanID: loanID, DaysLate: days, DailyRateCents: a.fineRate, AmountCents: amount}
	existing, ok, err := a.store.GetFineByLoan(ctx, loanID)
	if err != nil {
		return FineQuote{}, fmt.Errorf("fetch fine: %w", err)
	}
	if ok {
		quote.FineID = existing.ID
	}
	return quote, nil
}

// GetFine returns a fine with its member and book details.
func (a *App) GetFine(ctx context.Context, id uint) (domain.FineView, error) {
	fine, ok, err := a.store.GetFine(ctx, id)
	if err != nil {
		return domain.FineView{}, fmt.Errorf("fetch fine: %w", err)
	}
	if !ok {
		return domain.FineView{}, notFound("fine", id)
	}
	return fine, nil
}

// ListFines returns fines, optionally only the unpaid ones.
func (a *App) ListFines(ctx context.Context, unpaidOnly bool) ([]domain.FineView, error) {
	return a.store.ListFines(ctx, store.FineFilter{UnpaidOnly: unpaidOnly})
}

// PayFine marks a fine paid. Paying twice fails with ErrFinePaid.
func (a *App) PayFine(ctx context.Context, id uint) (domain.FineView, error) {
	fine, err := a.GetFine(ctx, id)
	if err != nil {
		return domain.FineView{}, err
	}
	if fine.Paid {
		return domain.FineView{}, ErrFinePaid
	}
	ok, err := a.store.MarkFinePaid(ctx, id, a.now())
	if err != nil {
		return domain.FineView{}, fmt.Errorf("pay fine: %w", err)
	}
	if !ok {
		return domain.FineView{}, ErrFinePaid
	}
	a.invalidateStats()
	a.publish(ctx, events.FinePaid, newFineEvent(fine.Fine))
	return a.GetFine(ctx, id)
}

// DeleteFine removes an unpaid fine. Paid fines are financial history and
// stay.
func (a *App) DeleteFine(ctx context.Context, id uint) error {
	fine, err := a.GetFine(ctx, id)
	if err != nil {
		return err
	}
	if fine.Paid {
		return fmt.Errorf("%w: paid fines cannot be deleted", ErrFinePaid)
	}
	ok, err := a.store.DeleteUnpaidFine(ctx, id)
	if err != nil {
		return fmt.Errorf("delete fine: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: paid fines cannot be deleted", ErrFinePaid)
	}
	a.invalidateStats()
	return nil
}
