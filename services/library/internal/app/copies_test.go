package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/store"
)

func TestAddCopiesAssignsSequentialBarcodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, copies := f.book(t, "Dune", 3)

	require.Len(t, copies, 3)
	for i, c := range copies {
		assert.Equal(t, Barcode(b.ID, i+1), c.Barcode)
		assert.Equal(t, domain.CopyAvailable, c.Status)
		assert.Equal(t, "General", c.Location)
	}

	_, err := f.app.RemoveCopies(ctx, b.ID, 1)
	require.NoError(t, err)
	more, err := f.app.AddCopies(ctx, b.ID, 1, "Annex")
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Equal(t, "LIB-001-004", more[0].Barcode, "sequences are never reused")
	assert.Equal(t, "Annex", more[0].Location)

	_, err = f.app.AddCopies(ctx, b.ID, 0, "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.app.AddCopies(ctx, 999, 1, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveCopiesSkipsLoanedCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := f.member(t, "ana")
	b, copies := f.book(t, "1984", 3)
	loan, err := f.app.CreateLoan(ctx, f.admin, ana.ID, copies[0].ID, 14)
	require.NoError(t, err)

	removed, err := f.app.RemoveCopies(ctx, b.ID, 2)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	for _, c := range removed {
		assert.NotEqual(t, copies[0].ID, c.ID)
	}

	left, err := f.app.ListCopies(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, copies[0].ID, left[0].ID)
	assert.Equal(t, domain.CopyLoaned, left[0].Status)

	_, err = f.app.RemoveCopies(ctx, b.ID, 1)
	require.ErrorIs(t, err, ErrInsufficientCopies)

	view, err := f.app.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.TotalCopies)
	assert.Zero(t, view.AvailableCopies)
	assert.False(t, view.Available)

	_, err = f.app.ReturnLoan(ctx, f.admin, loan.ID)
	require.NoError(t, err)
	f.requireCopyLoanInvariant(t)
}

func TestRemoveCopiesIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, _ := f.book(t, "Emma", 2)

	_, err := f.app.RemoveCopies(ctx, b.ID, 3)
	require.ErrorIs(t, err, ErrInsufficientCopies)

	n, err := f.store.CountCopies(ctx, store.CopyFilter{BookID: b.ID, Status: domain.CopyAvailable})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSetCopyStatusGuardsLoanedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := f.member(t, "ana")
	_, copies := f.book(t, "Ulysses", 2)

	_, err := f.app.SetCopyStatus(ctx, copies[0].ID, domain.CopyLoaned, "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.app.SetCopyStatus(ctx, copies[0].ID, "Stolen", "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	lost, err := f.app.SetCopyStatus(ctx, copies[1].ID, domain.CopyLost, "  missing since audit ")
	require.NoError(t, err)
	assert.Equal(t, domain.CopyLost, lost.Status)
	assert.Equal(t, "missing since audit", lost.StatusNote)

	_, err = f.app.CreateLoan(ctx, f.admin, ana.ID, copies[0].ID, 14)
	require.NoError(t, err)
	_, err = f.app.SetCopyStatus(ctx, copies[0].ID, domain.CopyRepair, "")
	require.ErrorIs(t, err, ErrCopyOnLoan)

	_, err = f.app.SetCopyStatus(ctx, 999, domain.CopyRepair, "")
	require.ErrorIs(t, err, ErrNotFound)
	f.requireCopyLoanInvariant(t)
}
