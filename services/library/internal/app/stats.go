package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/store"
)

const (
	dashboardCacheKey  = "dashboard"
	defaultRecentLoans = 10
	maxRecentLoans     = 100
	monthlyStatsMonths = 12
)

// Dashboard aggregates the headline counters. Counts run concurrently and the
// result is cached briefly; mutations purge the cache.
func (a *App) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	if a.dashboard != nil {
		if d, ok := a.dashboard.Get(dashboardCacheKey); ok {
			return d, nil
		}
	}
	var d domain.Dashboard
	now := a.now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.TotalBooks, err = a.store.CountBooks(gctx)
		return wrapCount("books", err)
	})
	g.Go(func() (err error) {
		d.TotalCopies, err = a.store.CountCopies(gctx, store.CopyFilter{})
		return wrapCount("copies", err)
	})
	g.Go(func() (err error) {
		d.AvailableCopies, err = a.store.CountCopies(gctx, store.CopyFilter{Status: domain.CopyAvailable})
		return wrapCount("available copies", err)
	})
	g.Go(func() (err error) {
		d.TotalUsers, err = a.store.CountUsers(gctx)
		return wrapCount("users", err)
	})
	g.Go(func() error {
		open, err := a.store.ListLoans(gctx, store.LoanFilter{OpenOnly: true})
		if err != nil {
			return wrapCount("open loans", err)
		}
		for _, l := range open {
			if l.StatusAt(now) == domain.LoanOverdue {
				d.OverdueLoans++
			} else {
				d.ActiveLoans++
			}
		}
		return nil
	})
	g.Go(func() (err error) {
		d.PendingReservations, err = a.store.CountReservations(gctx, store.ReservationFilter{Status: domain.ReservationPending})
		return wrapCount("reservations", err)
	})
	g.Go(func() (err error) {
		d.UnpaidFines, d.UnpaidFinesTotalCents, err = a.store.UnpaidFineTotals(gctx)
		return wrapCount("unpaid fines", err)
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}
	if a.dashboard != nil {
		a.dashboard.Add(dashboardCacheKey, d)
	}
	return d, nil
}

// BooksByCategory counts books per category.
func (a *App) BooksByCategory(ctx context.Context) ([]domain.CategoryCount, error) {
	return a.store.BooksByCategory(ctx)
}

// UsersByRole counts members per role.
func (a *App) UsersByRole(ctx context.Context) ([]domain.RoleCount, error) {
	return a.store.UsersByRole(ctx)
}

// RecentLoans returns the newest loans, limit defaulting to 10.
func (a *App) RecentLoans(ctx context.Context, limit int) ([]domain.LoanView, error) {
	if limit <= 0 {
		limit = defaultRecentLoans
	}
	if limit > maxRecentLoans {
		limit = maxRecentLoans
	}
	loans, err := a.store.ListLoans(ctx, store.LoanFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return a.deriveLoanStatus(loans), nil
}

// MonthlyLoans counts checkouts and returns per calendar month (UTC) for the
// last twelve months, oldest first. Months without activity report zero.
func (a *App) MonthlyLoans(ctx context.Context) ([]domain.MonthlyLoanStats, error) {
	now := a.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(monthlyStatsMonths - 1), 0)
	loans, err := a.store.ListLoans(ctx, store.LoanFilter{Since: &start})
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	out := make([]domain.MonthlyLoanStats, monthlyStatsMonths)
	index := make(map[string]int, monthlyStatsMonths)
	for i := range out {
		month := start.AddDate(0, i, 0).Format("2006-01")
		out[i].Month = month
		index[month] = i
	}
	for _, l := range loans {
		if i, ok := index[l.LoanDate.UTC().Format("2006-01")]; ok {
			out[i].Loans++
		}
		if l.ReturnedAt != nil {
			if i, ok := index[l.ReturnedAt.UTC().Format("2006-01")]; ok {
				out[i].Returned++
			}
		}
	}
	return out, nil
}

func wrapCount(what string, err error) error {
	if err != nil {
		return fmt.Errorf("count %s: %w", what, err)
	}
	return nil
}
