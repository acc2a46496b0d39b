package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"libraryhub/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore("sqlite:" + filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustBook(t *testing.T, s *GormStore, title string, authorIDs ...uint) domain.Book {
	t.Helper()
	b := domain.Book{Title: title, AuthorIDs: authorIDs}
	if err := s.CreateBook(context.Background(), &b); err != nil {
		t.Fatalf("create book %q: %v", title, err)
	}
	return b
}

func mustCopies(t *testing.T, s *GormStore, bookID uint, n int) []domain.Copy {
	t.Helper()
	ctx := context.Background()
	start, err := s.AllocateCopySequence(ctx, bookID, n)
	if err != nil {
		t.Fatalf("allocate sequence: %v", err)
	}
	copies := make([]domain.Copy, 0, n)
	for i := 0; i < n; i++ {
		copies = append(copies, domain.Copy{
			BookID:   bookID,
			Sequence: start + i,
			Barcode:  fmt.Sprintf("B-%d-%d", bookID, start+i),
			Status:   domain.CopyAvailable,
		})
	}
	created, err := s.CreateCopies(ctx, copies)
	if err != nil {
		t.Fatalf("create copies: %v", err)
	}
	return created
}

func TestAllocateCopySequenceNeverReuses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	book := mustBook(t, s, "Dune")

	first, err := s.AllocateCopySequence(ctx, book.ID, 3)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first != 1 {
		t.Fatalf("first sequence = %d, want 1", first)
	}
	next, err := s.AllocateCopySequence(ctx, book.ID, 2)
	if err != nil {
		t.Fatalf("allocate again: %v", err)
	}
	if next != 4 {
		t.Fatalf("next sequence = %d, want 4", next)
	}
	if _, err := s.AllocateCopySequence(ctx, 9999, 1); err == nil {
		t.Fatalf("expected missing book to fail")
	}
}

func TestBookViewCountsAndAuthors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orwell := domain.Author{Name: "George Orwell"}
	if err := s.CreateAuthor(ctx, &orwell); err != nil {
		t.Fatalf("create author: %v", err)
	}
	cat := domain.Category{Name: "Fiction"}
	if err := s.CreateCategory(ctx, &cat); err != nil {
		t.Fatalf("create category: %v", err)
	}
	b := domain.Book{Title: "1984", ISBN: "978-0451524935", CategoryID: &cat.ID, AuthorIDs: []uint{orwell.ID, orwell.ID}}
	if err := s.CreateBook(ctx, &b); err != nil {
		t.Fatalf("create book: %v", err)
	}
	copies := mustCopies(t, s, b.ID, 2)
	if ok, err := s.TransitionCopy(ctx, copies[0].ID, []domain.CopyStatus{domain.CopyAvailable}, domain.CopyRepair, "water damage"); err != nil || !ok {
		t.Fatalf("transition copy: ok=%v err=%v", ok, err)
	}

	view, ok, err := s.GetBook(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if view.TotalCopies != 2 || view.AvailableCopies != 1 || !view.Available {
		t.Fatalf("unexpected counts: %+v", view)
	}
	if view.CategoryName != "Fiction" {
		t.Fatalf("category name = %q", view.CategoryName)
	}
	if len(view.Authors) != 1 || view.Authors[0].Name != "George Orwell" {
		t.Fatalf("unexpected authors: %+v", view.Authors)
	}

	found, err := s.ListBooks(ctx, BookFilter{Term: "orwell"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != b.ID {
		t.Fatalf("search by author returned %+v", found)
	}
	found, err = s.ListBooks(ctx, BookFilter{Term: "0451524935"})
	if err != nil || len(found) != 1 {
		t.Fatalf("search by isbn returned %d books, err=%v", len(found), err)
	}
}

func TestAvailableOnlyFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stocked := mustBook(t, s, "Stocked")
	mustCopies(t, s, stocked.ID, 1)
	mustBook(t, s, "Empty")

	books, err := s.ListBooks(ctx, BookFilter{AvailableOnly: true})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(books) != 1 || books[0].Title != "Stocked" {
		t.Fatalf("unexpected available books: %+v", books)
	}
}

func TestTransitionCopyIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBook(t, s, "Emma")
	c := mustCopies(t, s, b.ID, 1)[0]

	ok, err := s.TransitionCopy(ctx, c.ID, []domain.CopyStatus{domain.CopyAvailable}, domain.CopyLoaned, "")
	if err != nil || !ok {
		t.Fatalf("first checkout: ok=%v err=%v", ok, err)
	}
	ok, err = s.TransitionCopy(ctx, c.ID, []domain.CopyStatus{domain.CopyAvailable}, domain.CopyLoaned, "")
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if ok {
		t.Fatalf("second checkout must not change a loaned copy")
	}
}

func TestDeleteBookCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := domain.Author{Name: "Jane Austen"}
	if err := s.CreateAuthor(ctx, &a); err != nil {
		t.Fatalf("create author: %v", err)
	}
	b := mustBook(t, s, "Persuasion", a.ID)
	mustCopies(t, s, b.ID, 2)
	u := domain.User{Name: "Ana", Email: "ana@example.com", CardNumber: "USR000001", Role: domain.RoleStudent, Status: domain.UserActive}
	if err := s.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	r := domain.Reservation{UserID: u.ID, BookID: b.ID, RequestDate: time.Now().UTC(), Status: domain.ReservationPending}
	if err := s.CreateReservation(ctx, &r); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	ok, err := s.DeleteBook(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("delete book: ok=%v err=%v", ok, err)
	}
	if n, _ := s.CountCopies(ctx, CopyFilter{BookID: b.ID}); n != 0 {
		t.Fatalf("copies left after delete: %d", n)
	}
	if n, _ := s.CountReservations(ctx, ReservationFilter{BookID: b.ID}); n != 0 {
		t.Fatalf("reservations left after delete: %d", n)
	}
	books, err := s.ListBooks(ctx, BookFilter{AuthorID: a.ID})
	if err != nil || len(books) != 0 {
		t.Fatalf("author links left: %d err=%v", len(books), err)
	}
	if _, ok, _ := s.GetAuthor(ctx, a.ID); !ok {
		t.Fatalf("author must survive book deletion")
	}
}

func TestDuplicateEmailIsTranslated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := domain.User{Name: "A", Email: "dup@example.com", CardNumber: "USR1", Role: domain.RoleStudent, Status: domain.UserActive}
	if err := s.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	again := domain.User{Name: "B", Email: "DUP@example.com", CardNumber: "USR2", Role: domain.RoleStudent, Status: domain.UserActive}
	err := s.CreateUser(ctx, &again)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestFineLifecycleQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := domain.User{Name: "Luis", Email: "luis@example.com", CardNumber: "USR3", Role: domain.RoleProfessor, Status: domain.UserActive}
	if err := s.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	b := mustBook(t, s, "Ulysses")
	c := mustCopies(t, s, b.ID, 1)[0]
	now := time.Now().UTC()
	loan := domain.Loan{UserID: u.ID, CopyID: c.ID, BookID: b.ID, LoanDate: now, DueDate: now.Add(time.Hour), Status: domain.LoanActive}
	if err := s.CreateLoan(ctx, &loan); err != nil {
		t.Fatalf("create loan: %v", err)
	}
	fine := domain.Fine{LoanID: loan.ID, UserID: u.ID, AmountCents: 600, DaysLate: 3}
	if err := s.CreateFine(ctx, &fine); err != nil {
		t.Fatalf("create fine: %v", err)
	}
	dup := domain.Fine{LoanID: loan.ID, UserID: u.ID, AmountCents: 600}
	if err := s.CreateFine(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected one fine per loan, got %v", err)
	}

	owing, err := s.UsersWithUnpaidFines(ctx)
	if err != nil {
		t.Fatalf("users with fines: %v", err)
	}
	if len(owing) != 1 || owing[0].ID != u.ID || owing[0].UnpaidTotalCents != 600 {
		t.Fatalf("unexpected owing users: %+v", owing)
	}

	view, ok, err := s.GetFine(ctx, fine.ID)
	if err != nil || !ok {
		t.Fatalf("get fine: ok=%v err=%v", ok, err)
	}
	if view.BookTitle != "Ulysses" || view.UserName != "Luis" {
		t.Fatalf("unexpected fine view: %+v", view)
	}

	if ok, err := s.MarkFinePaid(ctx, fine.ID, now); err != nil || !ok {
		t.Fatalf("pay fine: ok=%v err=%v", ok, err)
	}
	if ok, err := s.MarkFinePaid(ctx, fine.ID, now); err != nil || ok {
		t.Fatalf("second payment must not update, ok=%v err=%v", ok, err)
	}
	if ok, err := s.DeleteUnpaidFine(ctx, fine.ID); err != nil || ok {
		t.Fatalf("paid fine must not be deleted, ok=%v err=%v", ok, err)
	}
	count, cents, err := s.UnpaidFineTotals(ctx)
	if err != nil || count != 0 || cents != 0 {
		t.Fatalf("unpaid totals = %d/%d err=%v", count, cents, err)
	}
	paid, _, _ := s.GetFine(ctx, fine.ID)
	if !paid.Paid || paid.PaymentDate == nil {
		t.Fatalf("expected payment date, got %+v", paid)
	}
}

func TestTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Tx(ctx, func(tx Store) error {
		c := domain.Category{Name: "Rolled back"}
		if err := tx.CreateCategory(ctx, &c); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	cats, err := s.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(cats) != 0 {
		t.Fatalf("expected rollback, found %+v", cats)
	}
}
