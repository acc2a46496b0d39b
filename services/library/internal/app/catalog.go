package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/storage"
	"libraryhub/pkg/store"
)

// authors

// CreateAuthor adds an author.
func (a *App) CreateAuthor(ctx context.Context, in domain.Author) (domain.Author, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Author{}, invalid("name is required")
	}
	if err := a.store.CreateAuthor(ctx, &in); err != nil {
		return domain.Author{}, duplicate(err, "author")
	}
	return in, nil
}

// UpdateAuthor renames an author.
func (a *App) UpdateAuthor(ctx context.Context, in domain.Author) (domain.Author, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Author{}, invalid("name is required")
	}
	ok, err := a.store.UpdateAuthor(ctx, in)
	if err != nil {
		return domain.Author{}, duplicate(err, "author")
	}
	if !ok {
		return domain.Author{}, notFound("author", in.ID)
	}
	return a.GetAuthor(ctx, in.ID)
}

// GetAuthor returns an author by id.
func (a *App) GetAuthor(ctx context.Context, id uint) (domain.Author, error) {
	author, ok, err := a.store.GetAuthor(ctx, id)
	if err != nil {
		return domain.Author{}, fmt.Errorf("fetch author: %w", err)
	}
	if !ok {
		return domain.Author{}, notFound("author", id)
	}
	return author, nil
}

// ListAuthors returns all authors by name.
func (a *App) ListAuthors(ctx context.Context) ([]domain.Author, error) {
	return a.store.ListAuthors(ctx)
}

// AuthorBooks lists the books written by an author.
func (a *App) AuthorBooks(ctx context.Context, id uint) ([]domain.BookView, error) {
	if _, err := a.GetAuthor(ctx, id); err != nil {
		return nil, err
	}
	return a.store.ListBooks(ctx, store.BookFilter{AuthorID: id})
}

// DeleteAuthor refuses while any book still lists the author.
func (a *App) DeleteAuthor(ctx context.Context, id uint) error {
	return a.store.Tx(ctx, func(tx store.Store) error {
		books, err := tx.ListBooks(ctx, store.BookFilter{AuthorID: id})
		if err != nil {
			return fmt.Errorf("list books: %w", err)
		}
		if len(books) > 0 {
			return inUse(fmt.Sprintf("author has %d books", len(books)))
		}
		ok, err := tx.DeleteAuthor(ctx, id)
		return deleteResult("author", id, ok, err)
	})
}

// publishers

// CreatePublisher adds a publisher. Names are unique.
func (a *App) CreatePublisher(ctx context.Context, in domain.Publisher) (domain.Publisher, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Publisher{}, invalid("name is required")
	}
	if err := a.store.CreatePublisher(ctx, &in); err != nil {
		return domain.Publisher{}, duplicate(err, "publisher")
	}
	return in, nil
}

// UpdatePublisher edits a publisher's details.
func (a *App) UpdatePublisher(ctx context.Context, in domain.Publisher) (domain.Publisher, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Publisher{}, invalid("name is required")
	}
	ok, err := a.store.UpdatePublisher(ctx, in)
	if err != nil {
		return domain.Publisher{}, duplicate(err, "publisher")
	}
	if !ok {
		return domain.Publisher{}, notFound("publisher", in.ID)
	}
	return a.GetPublisher(ctx, in.ID)
}

// GetPublisher returns a publisher by id.
func (a *App) GetPublisher(ctx context.Context, id uint) (domain.Publisher, error) {
	p, ok, err := a.store.GetPublisher(ctx, id)
	if err != nil {
		return domain.Publisher{}, fmt.Errorf("fetch publisher: %w", err)
	}
	if !ok {
		return domain.Publisher{}, notFound("publisher", id)
	}
	return p, nil
}

// ListPublishers returns all publishers by name.
func (a *App) ListPublishers(ctx context.Context) ([]domain.Publisher, error) {
	return a.store.ListPublishers(ctx)
}

// PublisherBooks lists the books of an existing publisher.
func (a *App) PublisherBooks(ctx context.Context, id uint) ([]domain.BookView, error) {
	if _, err := a.GetPublisher(ctx, id); err != nil {
		return nil, err
	}
	return a.store.ListBooks(ctx, store.BookFilter{PublisherID: id})
}

// DeletePublisher refuses while any book references the publisher.
func (a *App) DeletePublisher(ctx context.Context, id uint) error {
	return a.store.Tx(ctx, func(tx store.Store) error {
		books, err := tx.ListBooks(ctx, store.BookFilter{PublisherID: id})
		if err != nil {
			return fmt.Errorf("list books: %w", err)
		}
		if len(books) > 0 {
			return inUse(fmt.Sprintf("publisher has %d books", len(books)))
		}
		ok, err := tx.DeletePublisher(ctx, id)
		return deleteResult("publisher", id, ok, err)
	})
}

// categories

// CreateCategory adds a category. Names are unique.
func (a *App) CreateCategory(ctx context.Context, in domain.Category) (domain.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Category{}, invalid("name is required")
	}
	if err := a.store.CreateCategory(ctx, &in); err != nil {
		return domain.Category{}, duplicate(err, "category")
	}
	a.invalidateStats()
	return in, nil
}

// UpdateCategory edits a category.
func (a *App) UpdateCategory(ctx context.Context, in domain.Category) (domain.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Category{}, invalid("name is required")
	}
	ok, err := a.store.UpdateCategory(ctx, in)
	if err != nil {
		return domain.Category{}, duplicate(err, "category")
	}
	if !ok {
		return domain.Category{}, notFound("category", in.ID)
	}
	return a.GetCategory(ctx, in.ID)
}

// GetCategory returns a category by id.
func (a *App) GetCategory(ctx context.Context, id uint) (domain.Category, error) {
	c, ok, err := a.store.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, fmt.Errorf("fetch category: %w", err)
	}
	if !ok {
		return domain.Category{}, notFound("category", id)
	}
	return c, nil
}

// ListCategories returns all categories by name.
func (a *App) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return a.store.ListCategories(ctx)
}

// CategoryBooks lists the books filed under an existing category.
func (a *App) CategoryBooks(ctx context.Context, id uint) ([]domain.BookView, error) {
	if _, err := a.GetCategory(ctx, id); err != nil {
		return nil, err
	}
	return a.store.ListBooks(ctx, store.BookFilter{CategoryID: id})
}

// DeleteCategory refuses while any book is filed under the category.
func (a *App) DeleteCategory(ctx context.Context, id uint) error {
	return a.store.Tx(ctx, func(tx store.Store) error {
		books, err := tx.ListBooks(ctx, store.BookFilter{CategoryID: id})
		if err != nil {
			return fmt.Errorf("list books: %w", err)
		}
		if len(books) > 0 {
			return inUse(fmt.Sprintf("category has %d books", len(books)))
		}
		ok, err := tx.DeleteCategory(ctx, id)
		return deleteResult("category", id, ok, err)
	})
}

// books

// BookQuery selects books for listing.
type BookQuery struct {
	Term          string
	AvailableOnly bool
}

// ListBooks searches the catalog by title, ISBN or author name.
func (a *App) ListBooks(ctx context.Context, q BookQuery) ([]domain.BookView, error) {
	return a.store.ListBooks(ctx, store.BookFilter{
		Term:          strings.TrimSpace(q.Term),
		AvailableOnly: q.AvailableOnly,
	})
}

// GetBook returns a book with its copy counts and authors.
func (a *App) GetBook(ctx context.Context, id uint) (domain.BookView, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.BookView{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.BookView{}, notFound("book", id)
	}
	return book, nil
}

// CreateBook inserts a book with its author links.
func (a *App) CreateBook(ctx context.Context, in domain.Book) (domain.BookView, error) {
	in.ID = 0
	in.CoverKey = ""
	var id uint
	err := a.store.Tx(ctx, func(tx store.Store) error {
		if err := validateBook(ctx, tx, &in); err != nil {
			return err
		}
		if err := tx.CreateBook(ctx, &in); err != nil {
			return duplicate(err, "book")
		}
		id = in.ID
		return nil
	})
	if err != nil {
		return domain.BookView{}, err
	}
	a.invalidateStats()
	return a.GetBook(ctx, id)
}

// UpdateBook replaces the editable fields and the author links.
func (a *App) UpdateBook(ctx context.Context, in domain.Book) (domain.BookView, error) {
	err := a.store.Tx(ctx, func(tx store.Store) error {
		if err := validateBook(ctx, tx, &in); err != nil {
			return err
		}
		ok, err := tx.UpdateBook(ctx, in)
		if err != nil {
			return duplicate(err, "book")
		}
		if !ok {
			return notFound("book", in.ID)
		}
		return nil
	})
	if err != nil {
		return domain.BookView{}, err
	}
	a.invalidateStats()
	return a.GetBook(ctx, in.ID)
}

// DeleteBook removes a book, its author links, copies and reservations. It is
// refused while any copy is on loan.
func (a *App) DeleteBook(ctx context.Context, id uint) error {
	var coverKey string
	err := a.store.Tx(ctx, func(tx store.Store) error {
		book, ok, err := tx.GetBook(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch book: %w", err)
		}
		if !ok {
			return notFound("book", id)
		}
		loaned, err := tx.CountCopies(ctx, store.CopyFilter{BookID: id, Status: domain.CopyLoaned})
		if err != nil {
			return fmt.Errorf("count copies: %w", err)
		}
		if loaned > 0 {
			return fmt.Errorf("%w: %d copies of book %d are on loan", ErrCopyOnLoan, loaned, id)
		}
		coverKey = book.CoverKey
		ok, err = tx.DeleteBook(ctx, id)
		return deleteResult("book", id, ok, err)
	})
	if err != nil {
		return err
	}
	a.invalidateStats()
	a.deleteObject(ctx, coverKey)
	return nil
}

// UploadCover stores a cover image and points the book at it.
func (a *App) UploadCover(ctx context.Context, bookID uint, body io.Reader, size int64, contentType string) (domain.BookView, error) {
	if a.objects == nil {
		return domain.BookView{}, ErrStorageDisabled
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if _, ok := storage.CoverExtension(contentType); !ok {
		return domain.BookView{}, invalid("unsupported cover type %q", contentType)
	}
	if size <= 0 || size > storage.MaxCoverBytes {
		return domain.BookView{}, invalid("cover must be between 1 and %d bytes", storage.MaxCoverBytes)
	}
	book, err := a.GetBook(ctx, bookID)
	if err != nil {
		return domain.BookView{}, err
	}
	key := storage.CoverKey(bookID, contentType, a.now())
	if err := a.objects.Put(ctx, key, io.LimitReader(body, size), size, contentType); err != nil {
		return domain.BookView{}, fmt.Errorf("store cover: %w", err)
	}
	ok, err := a.store.SetBookCover(ctx, bookID, key)
	if err != nil || !ok {
		a.deleteObject(ctx, key)
		if err != nil {
			return domain.BookView{}, fmt.Errorf("set cover: %w", err)
		}
		return domain.BookView{}, notFound("book", bookID)
	}
	a.deleteObject(ctx, book.CoverKey)
	return a.GetBook(ctx, bookID)
}

// CoverURL returns a short-lived link to the book cover.
func (a *App) CoverURL(ctx context.Context, bookID uint) (string, error) {
	if a.objects == nil {
		return "", ErrStorageDisabled
	}
	book, err := a.GetBook(ctx, bookID)
	if err != nil {
		return "", err
	}
	if book.CoverKey == "" {
		return "", fmt.Errorf("%w: book %d has no cover", ErrNotFound, bookID)
	}
	url, err := a.objects.PresignGet(ctx, book.CoverKey, coverURLExpiry)
	if err != nil {
		return "", fmt.Errorf("presign cover: %w", err)
	}
	return url, nil
}

func (a *App) deleteObject(ctx context.Context, key string) {
	if a.objects == nil || key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("delete object failed", "key", key, "err", err)
	}
}

func validateBook(ctx context.Context, tx store.Store, b *domain.Book) error {
	b.Title = strings.TrimSpace(b.Title)
	b.ISBN = strings.TrimSpace(b.ISBN)
	b.Synopsis = plainText(b.Synopsis)
	if b.Title == "" {
		return invalid("title is required")
	}
	if b.EditionYear < 0 {
		return invalid("edition year must not be negative")
	}
	if b.PublisherID != nil {
		if _, ok, err := tx.GetPublisher(ctx, *b.PublisherID); err != nil {
			return fmt.Errorf("fetch publisher: %w", err)
		} else if !ok {
			return invalid("unknown publisher %d", *b.PublisherID)
		}
	}
	if b.CategoryID != nil {
		if _, ok, err := tx.GetCategory(ctx, *b.CategoryID); err != nil {
			return fmt.Errorf("fetch category: %w", err)
		} else if !ok {
			return invalid("unknown category %d", *b.CategoryID)
		}
	}
	for _, authorID := range b.AuthorIDs {
		if _, ok, err := tx.GetAuthor(ctx, authorID); err != nil {
			return fmt.Errorf("fetch author: %w", err)
		} else if !ok {
			return invalid("unknown author %d", authorID)
		}
	}
	return nil
}

// deleteResult converts a store delete result into NotFound when nothing matched.
func deleteResult(what string, id uint, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("delete %s: %w", what, err)
	}
	if !ok {
		return notFound(what, id)
	}
	return nil
}
