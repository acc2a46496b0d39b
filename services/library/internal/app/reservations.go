package app

import (
	"context"
	"fmt"

	"libraryhub/pkg/domain"
	"libraryhub/pkg/events"
	"libraryhub/pkg/store"
)

var openReservation = []domain.ReservationStatus{domain.ReservationPending, domain.ReservationReady}

type reservationEvent struct {
	ReservationID uint   `json:"reservationId"`
	UserID        uint   `json:"userId"`
	BookID        uint   `json:"bookId"`
	Status        string `json:"status"`
}

func newReservationEvent(id, userID, bookID uint, status domain.ReservationStatus) reservationEvent {
	return reservationEvent{ReservationID: id, UserID: userID, BookID: bookID, Status: string(status)}
}

// CreateReservation queues a member's interest in a book. Current stock is
// not checked. A zero userID reserves for the actor.
func (a *App) CreateReservation(ctx context.Context, actor Actor, userID, bookID uint) (domain.ReservationView, error) {
	if userID == 0 {
		userID = actor.ID
	}
	if userID == 0 || bookID == 0 {
		return domain.ReservationView{}, invalid("userId and bookId are required")
	}
	if !actor.canActFor(userID) {
		return domain.ReservationView{}, fmt.Errorf("%w: members may only reserve for themselves", ErrForbidden)
	}
	r := domain.Reservation{
		UserID:      userID,
		BookID:      bookID,
		RequestDate: a.now(),
		Status:      domain.ReservationPending,
	}
	err := a.store.Tx(ctx, func(tx store.Store) error {
		if _, ok, err := tx.GetUser(ctx, userID); err != nil {
			return fmt.Errorf("fetch user: %w", err)
		} else if !ok {
			return notFound("user", userID)
		}
		if _, ok, err := tx.GetBook(ctx, bookID); err != nil {
			return fmt.Errorf("fetch book: %w", err)
		} else if !ok {
			return notFound("book", bookID)
		}
		if err := tx.CreateReservation(ctx, &r); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ReservationView{}, err
	}
	a.invalidateStats()
	a.publish(ctx, events.ReservationCreated, newReservationEvent(r.ID, r.UserID, r.BookID, r.Status))
	return a.reservationView(ctx, r.ID)
}

// CompleteReservation records the pickup of a reserved book.
func (a *App) CompleteReservation(ctx context.Context, actor Actor, id uint) (domain.ReservationView, error) {
	return a.closeReservation(ctx, actor, id, domain.ReservationCompleted, events.ReservationCompleted)
}

// CancelReservation withdraws an open reservation.
func (a *App) CancelReservation(ctx context.Context, actor Actor, id uint) (domain.ReservationView, error) {
	return a.closeReservation(ctx, actor, id, domain.ReservationCancelled, events.ReservationCancelled)
}

func (a *App) closeReservation(ctx context.Context, actor Actor, id uint, to domain.ReservationStatus, eventType string) (domain.ReservationView, error) {
	r, err := a.reservationForActor(ctx, actor, id)
	if err != nil {
		return domain.ReservationView{}, err
	}
	if !r.Status.Open() {
		return domain.ReservationView{}, fmt.Errorf("%w: reservation %d is %s", ErrReservationClosed, id, r.Status)
	}
	changed, err := a.store.TransitionReservation(ctx, id, openReservation, to)
	if err != nil {
		return domain.ReservationView{}, fmt.Errorf("update reservation: %w", err)
	}
	if !changed {
		return domain.ReservationView{}, ErrReservationClosed
	}
	a.invalidateStats()
	a.publish(ctx, eventType, newReservationEvent(r.ID, r.UserID, r.BookID, to))
	return a.reservationView(ctx, id)
}

// GetReservation returns a reservation visible to the actor.
func (a *App) GetReservation(ctx context.Context, actor Actor, id uint) (domain.ReservationView, error) {
	return a.reservationForActor(ctx, actor, id)
}

// ListReservations lists every reservation for administrators and the
// actor's own otherwise, oldest first.
func (a *App) ListReservations(ctx context.Context, actor Actor) ([]domain.ReservationView, error) {
	f := store.ReservationFilter{}
	if !actor.Admin() {
		f.UserID = actor.ID
	}
	return a.store.ListReservations(ctx, f)
}

// DeleteReservation removes a reservation in any status.
func (a *App) DeleteReservation(ctx context.Context, id uint) error {
	ok, err := a.store.DeleteReservation(ctx, id)
	if err := deleteResult("reservation", id, ok, err); err != nil {
		return err
	}
	a.invalidateStats()
	return nil
}

func (a *App) reservationForActor(ctx context.Context, actor Actor, id uint) (domain.ReservationView, error) {
	r, err := a.reservationView(ctx, id)
	if err != nil {
		return domain.ReservationView{}, err
	}
	if !actor.canActFor(r.UserID) {
		return domain.ReservationView{}, fmt.Errorf("%w: reservation %d belongs to another member", ErrForbidden, id)
	}
	return r, nil
}

func (a *App) reservationView(ctx context.Context, id uint) (domain.ReservationView, error) {
	r, ok, err := a.store.GetReservation(ctx, id)
	if err != nil {
		return domain.ReservationView{}, fmt.Errorf("fetch reservation: %w", err)
	}
	if !ok {
		return domain.ReservationView{}, notFound("reservation", id)
	}
	return r, nil
}
