package app

import (
	"context"
	"fmt"
	"time"

	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/events"
	"libraryhub/pkg/store"
)

// ReturnResult is the closed loan plus the fine assessed for it, if any.
type ReturnResult struct {
	Loan domain.LoanView `json:"loan"`
	Fine *domain.Fine    `json:"fine,omitempty"`
}

type loanEvent struct {
	LoanID   uint   `json:"loanId"`
	UserID   uint   `json:"userId"`
	CopyID   uint   `json:"copyId"`
	BookID   uint   `json:"bookId"`
	DueDate  string `json:"dueDate"`
	Renewals int    `json:"renewals"`
}

func newLoanEvent(l domain.Loan) loanEvent {
	return loanEvent{
		LoanID:   l.ID,
		UserID:   l.UserID,
		CopyID:   l.CopyID,
		BookID:   l.BookID,
		DueDate:  l.DueDate.Format(time.RFC3339),
		Renewals: l.Renewals,
	}
}

// CreateLoan checks a copy out to a member. The availability check, the copy
// status flip and the loan insert commit together, so two checkouts of the
// same copy can never both succeed.
func (a *App) CreateLoan(ctx context.Context, actor Actor, userID, copyID uint, loanDays int) (domain.LoanView, error) {
	if loanDays <= 0 || loanDays > maxPeriodDays {
		return domain.LoanView{}, invalid("loan days must be between 1 and %d", maxPeriodDays)
	}
	if userID == 0 || copyID == 0 {
		return domain.LoanView{}, invalid("userId and copyId are required")
	}
	if !actor.canActFor(userID) {
		return domain.LoanView{}, fmt.Errorf("%w: members may only borrow for themselves", ErrForbidden)
	}
	now := a.now()
	var loan domain.Loan
	err := a.store.Tx(ctx, func(tx store.Store) error {
		user, ok, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("fetch user: %w", err)
		}
		if !ok {
			return notFound("user", userID)
		}
		if user.Status != domain.UserActive {
			return ErrUserSuspended
		}
		c, ok, err := tx.GetCopy(ctx, copyID)
		if err != nil {
			return fmt.Errorf("fetch copy: %w", err)
		}
		if !ok {
			return notFound("copy", copyID)
		}
		if c.Status != domain.CopyAvailable {
			return fmt.Errorf("%w: copy %s is %s", ErrCopyUnavailable, c.Barcode, c.Status)
		}
		changed, err := tx.TransitionCopy(ctx, copyID, []domain.CopyStatus{domain.CopyAvailable}, domain.CopyLoaned, "")
		if err != nil {
			return fmt.Errorf("update copy: %w", err)
		}
		if !changed {
			return ErrCopyUnavailable
		}
		loan = domain.Loan{
			UserID:   userID,
			CopyID:   copyID,
			BookID:   c.BookID,
			LoanDate: now,
			DueDate:  now.AddDate(0, 0, loanDays),
			Status:   domain.LoanActive,
		}
		if err := tx.CreateLoan(ctx, &loan); err != nil {
			return fmt.Errorf("create loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.LoanView{}, err
	}
	a.invalidateStats()
	a.publish(ctx, events.LoanCreated, newLoanEvent(loan))
	util.LoggerFromContext(ctx).Info("loan created", "loan_id", loan.ID, "user_id", userID, "copy_id", copyID)
	return a.loanView(ctx, loan.ID)
}

// RenewLoan extends the due date of an open loan by extraDays.
func (a *App) RenewLoan(ctx context.Context, actor Actor, loanID uint, extraDays int) (domain.LoanView, error) {
	if extraDays <= 0 || extraDays > maxPeriodDays {
		return domain.LoanView{}, invalid("extra days must be between 1 and %d", maxPeriodDays)
	}
	var loan domain.Loan
	err := a.store.Tx(ctx, func(tx store.Store) error {
		view, err := a.loanForActor(ctx, tx, actor, loanID)
		if err != nil {
			return err
		}
		loan = view.Loan
		if !loan.Open() {
			return ErrLoanReturned
		}
		if a.maxRenewals > 0 && loan.Renewals >= a.maxRenewals {
			return fmt.Errorf("%w: %d of %d renewals used", ErrRenewalLimit, loan.Renewals, a.maxRenewals)
		}
		due := loan.DueDate.AddDate(0, 0, extraDays)
		changed, err := tx.ExtendLoan(ctx, loanID, loan.Renewals, due)
		if err != nil {
			return fmt.Errorf("extend loan: %w", err)
		}
		if !changed {
			return ErrLoanChanged
		}
		loan.DueDate = due
		loan.Renewals++
		return nil
	})
	if err != nil {
		return domain.LoanView{}, err
	}
	a.invalidateStats()
	a.publish(ctx, events.LoanRenewed, newLoanEvent(loan))
	return a.loanView(ctx, loanID)
}

// ReturnLoan closes an open loan, puts the copy back on the shelf and assesses
// a fine when the return is late. A second return fails with ErrLoanReturned.
func (a *App) ReturnLoan(ctx context.Context, actor Actor, loanID uint) (ReturnResult, error) {
	now := a.now()
	var (
		loan domain.Loan
		fine *domain.Fine
	)
	err := a.store.Tx(ctx, func(tx store.Store) error {
		view, err := a.loanForActor(ctx, tx, actor, loanID)
		if err != nil {
			return err
		}
		loan = view.Loan
		if !loan.Open() {
			return ErrLoanReturned
		}
		closed, err := tx.CloseLoan(ctx, loanID, now)
		if err != nil {
			return fmt.Errorf("close loan: %w", err)
		}
		if !closed {
			return ErrLoanReturned
		}
		loan.ReturnedAt = &now
		loan.Status = domain.LoanReturned

		shelved, err := tx.TransitionCopy(ctx, loan.CopyID, []domain.CopyStatus{domain.CopyLoaned}, domain.CopyAvailable, "")
		if err != nil {
			return fmt.Errorf("update copy: %w", err)
		}
		if !shelved {
			util.LoggerFromContext(ctx).Warn("returned copy was not on loan", "loan_id", loanID, "copy_id", loan.CopyID)
		}

		daysLate, amount := a.ComputeFine(loan)
		if amount <= 0 {
			return nil
		}
		f := domain.Fine{LoanID: loan.ID, UserID: loan.UserID, AmountCents: amount, DaysLate: daysLate}
		if err := tx.CreateFine(ctx, &f); err != nil {
			return fmt.Errorf("create fine: %w", duplicate(err, "fine for loan"))
		}
		fine = &f
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}
	a.invalidateStats()
	a.publish(ctx, events.LoanReturned, newLoanEvent(loan))
	if fine != nil {
		a.publish(ctx, events.FineAssessed, newFineEvent(*fine))
	}
	view, err := a.loanView(ctx, loanID)
	if err != nil {
		return ReturnResult{}, err
	}
	return ReturnResult{Loan: view, Fine: fine}, nil
}

// GetLoan returns a loan visible to the actor.
func (a *App) GetLoan(ctx context.Context, actor Actor, id uint) (domain.LoanView, error) {
	view, err := a.loanForActor(ctx, a.store, actor, id)
	if err != nil {
		return domain.LoanView{}, err
	}
	return a.deriveStatus(view), nil
}

// ListLoans lists every loan for administrators and the actor's own otherwise.
func (a *App) ListLoans(ctx context.Context, actor Actor) ([]domain.LoanView, error) {
	f := store.LoanFilter{}
	if !actor.Admin() {
		f.UserID = actor.ID
	}
	loans, err := a.store.ListLoans(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return a.deriveLoanStatus(loans), nil
}

// ActiveLoans lists open loans that are not yet due.
func (a *App) ActiveLoans(ctx context.Context, actor Actor) ([]domain.LoanView, error) {
	return a.openLoans(ctx, actor, domain.LoanActive)
}

// OverdueLoans lists open loans past their due date.
func (a *App) OverdueLoans(ctx context.Context, actor Actor) ([]domain.LoanView, error) {
	return a.openLoans(ctx, actor, domain.LoanOverdue)
}

// openLoans filters by derived status in Go so overdue is evaluated against
// the service clock, not the database clock.
func (a *App) openLoans(ctx context.Context, actor Actor, status domain.LoanStatus) ([]domain.LoanView, error) {
	f := store.LoanFilter{OpenOnly: true}
	if !actor.Admin() {
		f.UserID = actor.ID
	}
	loans, err := a.store.ListLoans(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	now := a.now()
	out := make([]domain.LoanView, 0, len(loans))
	for _, l := range loans {
		l.Status = l.StatusAt(now)
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out, nil
}

func (a *App) loanForActor(ctx context.Context, s store.Store, actor Actor, id uint) (domain.LoanView, error) {
	view, ok, err := s.GetLoan(ctx, id)
	if err != nil {
		return domain.LoanView{}, fmt.Errorf("fetch loan: %w", err)
	}
	if !ok {
		return domain.LoanView{}, notFound("loan", id)
	}
	if !actor.canActFor(view.UserID) {
		return domain.LoanView{}, fmt.Errorf("%w: loan %d belongs to another member", ErrForbidden, id)
	}
	return view, nil
}

func (a *App) loanView(ctx context.Context, id uint) (domain.LoanView, error) {
	view, ok, err := a.store.GetLoan(ctx, id)
	if err != nil {
		return domain.LoanView{}, fmt.Errorf("fetch loan: %w", err)
	}
	if !ok {
		return domain.LoanView{}, notFound("loan", id)
	}
	return a.deriveStatus(view), nil
}

func (a *App) deriveStatus(v domain.LoanView) domain.LoanView {
	v.Status = v.StatusAt(a.now())
	return v
}

func (a *App) deriveLoanStatus(loans []domain.LoanView) []domain.LoanView {
	now := a.now()
	for i := range loans {
		loans[i].Status = loans[i].StatusAt(now)
	}
	return loans
}
