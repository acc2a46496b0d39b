package store

import (
	"context"
	"errors"
	"time"

	"libraryhub/pkg/domain"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate key")

type BookFilter struct {
	Term          string
	AvailableOnly bool
	CategoryID    uint
	PublisherID   uint
	AuthorID      uint
}

type CopyFilter struct {
	BookID uint
	Status domain.CopyStatus
}

type LoanFilter struct {
	UserID   uint
	OpenOnly bool
	Since    *time.Time
	// Limit keeps the newest n loans when positive.
	Limit int
}

type FineFilter struct {
	UserID     uint
	UnpaidOnly bool
}

type ReservationFilter struct {
	UserID uint
	BookID uint
	Status domain.ReservationStatus
}

// UserStore persists library members.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	UpdateUser(ctx context.Context, u domain.User) (bool, error)
	GetUser(ctx context.Context, id uint) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	DeleteUser(ctx context.Context, id uint) (bool, error)
	UsersWithUnpaidFines(ctx context.Context) ([]domain.UserFineSummary, error)
}

// CatalogStore persists books and their reference data.
type CatalogStore interface {
	CreateAuthor(ctx context.Context, a *domain.Author) error
	UpdateAuthor(ctx context.Context, a domain.Author) (bool, error)
	GetAuthor(ctx context.Context, id uint) (domain.Author, bool, error)
	ListAuthors(ctx context.Context) ([]domain.Author, error)
	DeleteAuthor(ctx context.Context, id uint) (bool, error)

	CreatePublisher(ctx context.Context, p *domain.Publisher) error
	UpdatePublisher(ctx context.Context, p domain.Publisher) (bool, error)
	GetPublisher(ctx context.Context, id uint) (domain.Publisher, bool, error)
	ListPublishers(ctx context.Context) ([]domain.Publisher, error)
	DeletePublisher(ctx context.Context, id uint) (bool, error)

	CreateCategory(ctx context.Context, c *domain.Category) error
	UpdateCategory(ctx context.Context, c domain.Category) (bool, error)
	GetCategory(ctx context.Context, id uint) (domain.Category, bool, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	DeleteCategory(ctx context.Context, id uint) (bool, error)

	// CreateBook inserts the book and its author links.
	CreateBook(ctx context.Context, b *domain.Book) error
	// UpdateBook replaces the book fields and its author links.
	UpdateBook(ctx context.Context, b domain.Book) (bool, error)
	GetBook(ctx context.Context, id uint) (domain.BookView, bool, error)
	ListBooks(ctx context.Context, f BookFilter) ([]domain.BookView, error)
	SetBookCover(ctx context.Context, id uint, key string) (bool, error)
	// DeleteBook removes the book with its author links, copies and reservations.
	DeleteBook(ctx context.Context, id uint) (bool, error)
}

// InventoryStore persists physical copies.
type InventoryStore interface {
	// AllocateCopySequence reserves n barcode sequence numbers for a book and
	// returns the first one. Sequences are never reused.
	AllocateCopySequence(ctx context.Context, bookID uint, n int) (int, error)
	CreateCopies(ctx context.Context, copies []domain.Copy) ([]domain.Copy, error)
	GetCopy(ctx context.Context, id uint) (domain.Copy, bool, error)
	ListCopies(ctx context.Context, f CopyFilter) ([]domain.Copy, error)
	CountCopies(ctx context.Context, f CopyFilter) (int64, error)
	// LockAvailableCopies returns up to limit Available copies of a book,
	// newest first, locking the rows when the dialect supports it.
	LockAvailableCopies(ctx context.Context, bookID uint, limit int) ([]domain.Copy, error)
	// DeleteAvailableCopies deletes the given copies that are still Available.
	DeleteAvailableCopies(ctx context.Context, ids []uint) (int64, error)
	// TransitionCopy moves a copy to status "to" only when its current status
	// is one of from. It reports whether a row changed.
	TransitionCopy(ctx context.Context, id uint, from []domain.CopyStatus, to domain.CopyStatus, note string) (bool, error)
}

// CirculationStore persists loans, fines and reservations.
type CirculationStore interface {
	CreateLoan(ctx context.Context, l *domain.Loan) error
	GetLoan(ctx context.Context, id uint) (domain.LoanView, bool, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]domain.LoanView, error)
	CountLoans(ctx context.Context, f LoanFilter) (int64, error)
	// ExtendLoan sets a new due date on an Active loan whose renewal count
	// still equals renewals, and increments the count.
	ExtendLoan(ctx context.Context, id uint, renewals int, due time.Time) (bool, error)
	// CloseLoan marks an Active loan Returned.
	CloseLoan(ctx context.Context, id uint, returnedAt time.Time) (bool, error)

	CreateFine(ctx context.Context, f *domain.Fine) error
	GetFine(ctx context.Context, id uint) (domain.FineView, bool, error)
	GetFineByLoan(ctx context.Context, loanID uint) (domain.Fine, bool, error)
	ListFines(ctx context.Context, f FineFilter) ([]domain.FineView, error)
	// MarkFinePaid flips an unpaid fine to paid.
	MarkFinePaid(ctx context.Context, id uint, at time.Time) (bool, error)
	DeleteUnpaidFine(ctx context.Context, id uint) (bool, error)
	UnpaidFineTotals(ctx context.Context) (count int64, cents int64, err error)

	CreateReservation(ctx context.Context, r *domain.Reservation) error
	GetReservation(ctx context.Context, id uint) (domain.ReservationView, bool, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]domain.ReservationView, error)
	CountReservations(ctx context.Context, f ReservationFilter) (int64, error)
	TransitionReservation(ctx context.Context, id uint, from []domain.ReservationStatus, to domain.ReservationStatus) (bool, error)
	DeleteReservation(ctx context.Context, id uint) (bool, error)
}

// StatsStore serves aggregate queries.
type StatsStore interface {
	CountBooks(ctx context.Context) (int64, error)
	CountUsers(ctx context.Context) (int64, error)
	BooksByCategory(ctx context.Context) ([]domain.CategoryCount, error)
	UsersByRole(ctx context.Context) ([]domain.RoleCount, error)
}

// Store defines persistence operations for the library.
type Store interface {
	UserStore
	CatalogStore
	InventoryStore
	CirculationStore
	StatsStore

	// Tx runs fn in a single transaction. fn must use the Store it receives;
	// any returned error rolls the whole transaction back.
	Tx(ctx context.Context, fn func(Store) error) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID uint) (string, error)
	GetUserIDByToken(token string) (uint, bool, error)
	DeleteSession(token string) error
}
