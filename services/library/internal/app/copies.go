package app

import (
	"context"
	"fmt"
	"strings"

	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/store"
)

const defaultCopyLocation = "General"

// Barcode formats the barcode of a copy from its book id and sequence.
func Barcode(bookID uint, seq int) string {
	return fmt.Sprintf("LIB-%03d-%03d", bookID, seq)
}

// ListCopies lists the copies of a book, or every copy when bookID is zero.
func (a *App) ListCopies(ctx context.Context, bookID uint) ([]domain.Copy, error) {
	if bookID != 0 {
		if _, err := a.GetBook(ctx, bookID); err != nil {
			return nil, err
		}
	}
	return a.store.ListCopies(ctx, store.CopyFilter{BookID: bookID})
}

// GetCopy returns a single copy by id.
func (a *App) GetCopy(ctx context.Context, id uint) (domain.Copy, error) {
	c, ok, err := a.store.GetCopy(ctx, id)
	if err != nil {
		return domain.Copy{}, fmt.Errorf("fetch copy: %w", err)
	}
	if !ok {
		return domain.Copy{}, notFound("copy", id)
	}
	return c, nil
}

// AddCopies creates count Available copies with sequential barcodes that
// continue after the highest sequence ever assigned to the book.
func (a *App) AddCopies(ctx context.Context, bookID uint, count int, location string) ([]domain.Copy, error) {
	if count <= 0 || count > maxCopiesPerOperation {
		return nil, invalid("count must be between 1 and %d", maxCopiesPerOperation)
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = defaultCopyLocation
	}
	var created []domain.Copy
	err := a.store.Tx(ctx, func(tx store.Store) error {
		if _, ok, err := tx.GetBook(ctx, bookID); err != nil {
			return fmt.Errorf("fetch book: %w", err)
		} else if !ok {
			return notFound("book", bookID)
		}
		start, err := tx.AllocateCopySequence(ctx, bookID, count)
		if err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}
		copies := make([]domain.Copy, 0, count)
		for i := 0; i < count; i++ {
			seq := start + i
			copies = append(copies, domain.Copy{
				BookID:   bookID,
				Sequence: seq,
				Barcode:  Barcode(bookID, seq),
				Location: location,
				Status:   domain.CopyAvailable,
			})
		}
		created, err = tx.CreateCopies(ctx, copies)
		if err != nil {
			return duplicate(err, "copy barcode")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.invalidateStats()
	util.LoggerFromContext(ctx).Info("copies added", "book_id", bookID, "count", len(created))
	return created, nil
}

// RemoveCopies deletes count Available copies of a book, newest first. It
// fails without deleting anything when fewer than count are Available.
func (a *App) RemoveCopies(ctx context.Context, bookID uint, count int) ([]domain.Copy, error) {
	if count <= 0 || count > maxCopiesPerOperation {
		return nil, invalid("count must be between 1 and %d", maxCopiesPerOperation)
	}
	var removed []domain.Copy
	err := a.store.Tx(ctx, func(tx store.Store) error {
		if _, ok, err := tx.GetBook(ctx, bookID); err != nil {
			return fmt.Errorf("fetch book: %w", err)
		} else if !ok {
			return notFound("book", bookID)
		}
		available, err := tx.LockAvailableCopies(ctx, bookID, count)
		if err != nil {
			return fmt.Errorf("lock copies: %w", err)
		}
		if len(available) < count {
			return fmt.Errorf("%w: requested %d, %d available", ErrInsufficientCopies, count, len(available))
		}
		ids := make([]uint, 0, len(available))
		for _, c := range available {
			ids = append(ids, c.ID)
		}
		n, err := tx.DeleteAvailableCopies(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete copies: %w", err)
		}
		if n != int64(count) {
			return fmt.Errorf("%w: requested %d, %d removable", ErrInsufficientCopies, count, n)
		}
		removed = available
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.invalidateStats()
	util.LoggerFromContext(ctx).Info("copies removed", "book_id", bookID, "count", len(removed))
	return removed, nil
}

// SetCopyStatus is the administrative override for Available, Repair and Lost.
// Loaned is owned by the loan lifecycle: it cannot be set here and a copy on
// loan cannot be overridden.
func (a *App) SetCopyStatus(ctx context.Context, id uint, status domain.CopyStatus, note string) (domain.Copy, error) {
	if !status.Valid() {
		return domain.Copy{}, invalid("unknown copy status %q", status)
	}
	if status == domain.CopyLoaned {
		return domain.Copy{}, invalid("copies are marked Loaned only by checkout")
	}
	err := a.store.Tx(ctx, func(tx store.Store) error {
		c, ok, err := tx.GetCopy(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch copy: %w", err)
		}
		if !ok {
			return notFound("copy", id)
		}
		if c.Status == domain.CopyLoaned {
			return ErrCopyOnLoan
		}
		changed, err := tx.TransitionCopy(ctx, id,
			[]domain.CopyStatus{domain.CopyAvailable, domain.CopyRepair, domain.CopyLost},
			status, strings.TrimSpace(note))
		if err != nil {
			return fmt.Errorf("update copy: %w", err)
		}
		if !changed {
			return ErrCopyOnLoan
		}
		return nil
	})
	if err != nil {
		return domain.Copy{}, err
	}
	a.invalidateStats()
	return a.GetCopy(ctx, id)
}
