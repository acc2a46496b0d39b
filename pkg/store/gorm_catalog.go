package store

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"libraryhub/pkg/domain"
)

func first[M any](db *gorm.DB, id uint) (M, bool, error) {
	var model M
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return model, false, nil
		}
		return model, false, err
	}
	return model, true, nil
}

func deleteByID[M any](db *gorm.DB, id uint) (bool, error) {
	var model M
	res := db.Delete(&model, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// authors

func (s *GormStore) CreateAuthor(ctx context.Context, a *domain.Author) error {
	model := AuthorModel{Name: a.Name, Nationality: a.Nationality, Biography: a.Biography, CreatedAt: time.Now().UTC()}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return translateError(err)
	}
	*a = authorFromModel(model)
	return nil
}

func (s *GormStore) UpdateAuthor(ctx context.Context, a domain.Author) (bool, error) {
	res := s.conn(ctx).Model(&AuthorModel{}).Where("id = ?", a.ID).Updates(map[string]any{
		"name":        a.Name,
		"nationality": a.Nationality,
		"biography":   a.Biography,
	})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) GetAuthor(ctx context.Context, id uint) (domain.Author, bool, error) {
	m, ok, err := first[AuthorModel](s.conn(ctx), id)
	return authorFromModel(m), ok, err
}

func (s *GormStore) ListAuthors(ctx context.Context) ([]domain.Author, error) {
	var models []AuthorModel
	if err := s.conn(ctx).Order("name ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Author, 0, len(models))
	for _, m := range models {
		res = append(res, authorFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteAuthor(ctx context.Context, id uint) (bool, error) {
	return deleteByID[AuthorModel](s.conn(ctx), id)
}

// publishers

func (s *GormStore) CreatePublisher(ctx context.Context, p *domain.Publisher) error {
	model := PublisherModel{Name: p.Name, Country: p.Country, Email: p.Email, Phone: p.Phone, CreatedAt: time.Now().UTC()}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return translateError(err)
	}
	*p = publisherFromModel(model)
	return nil
}

func (s *GormStore) UpdatePublisher(ctx context.Context, p domain.Publisher) (bool, error) {
	res := s.conn(ctx).Model(&PublisherModel{}).Where("id = ?", p.ID).Updates(map[string]any{
		"name":    p.Name,
		"country": p.Country,
		"email":   p.Email,
		"phone":   p.Phone,
	})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) GetPublisher(ctx context.Context, id uint) (domain.Publisher, bool, error) {
	m, ok, err := first[PublisherModel](s.conn(ctx), id)
	return publisherFromModel(m), ok, err
}

func (s *GormStore) ListPublishers(ctx context.Context) ([]domain.Publisher, error) {
	var models []PublisherModel
	if err := s.conn(ctx).Order("name ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Publisher, 0, len(models))
	for _, m := range models {
		res = append(res, publisherFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeletePublisher(ctx context.Context, id uint) (bool, error) {
	return deleteByID[PublisherModel](s.conn(ctx), id)
}

// categories

func (s *GormStore) CreateCategory(ctx context.Context, c *domain.Category) error {
	model := CategoryModel{Name: c.Name, Description: c.Description, CreatedAt: time.Now().UTC()}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return translateError(err)
	}
	*c = categoryFromModel(model)
	return nil
}

func (s *GormStore) UpdateCategory(ctx context.Context, c domain.Category) (bool, error) {
	res := s.conn(ctx).Model(&CategoryModel{}).Where("id = ?", c.ID).Updates(map[string]any{
		"name":        c.Name,
		"description": c.Description,
	})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) GetCategory(ctx context.Context, id uint) (domain.Category, bool, error) {
	m, ok, err := first[CategoryModel](s.conn(ctx), id)
	return categoryFromModel(m), ok, err
}

func (s *GormStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var models []CategoryModel
	if err := s.conn(ctx).Order("name ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Category, 0, len(models))
	for _, m := range models {
		res = append(res, categoryFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteCategory(ctx context.Context, id uint) (bool, error) {
	return deleteByID[CategoryModel](s.conn(ctx), id)
}

// books

// CreateBook inserts the book row and its author links atomically.
func (s *GormStore) CreateBook(ctx context.Context, b *domain.Book) error {
	model := bookToModel(*b)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return translateError(err)
		}
		return replaceBookAuthors(tx, model.ID, b.AuthorIDs)
	})
	if err != nil {
		return err
	}
	authors := b.AuthorIDs
	*b = bookFromModel(model)
	b.AuthorIDs = dedupeIDs(authors)
	return nil
}

// UpdateBook overwrites the editable fields and replaces author links.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) (bool, error) {
	var updated bool
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BookModel{}).Where("id = ?", b.ID).Updates(map[string]any{
			"title":        b.Title,
			"isbn":         b.ISBN,
			"edition_year": b.EditionYear,
			"publisher_id": b.PublisherID,
			"category_id":  b.CategoryID,
			"synopsis":     b.Synopsis,
			"updated_at":   time.Now().UTC(),
		})
		if res.Error != nil {
			return translateError(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		updated = true
		return replaceBookAuthors(tx, b.ID, b.AuthorIDs)
	})
	return updated, err
}

func (s *GormStore) SetBookCover(ctx context.Context, id uint, key string) (bool, error) {
	res := s.conn(ctx).Model(&BookModel{}).Where("id = ?", id).Updates(map[string]any{
		"cover_key":  key,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteBook removes the book along with its author links, copies and
// reservations. Loans keep their historical copy and book ids.
func (s *GormStore) DeleteBook(ctx context.Context, id uint) (bool, error) {
	var deleted bool
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("book_id = ?", id).Delete(&BookAuthorModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("book_id = ?", id).Delete(&CopyModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("book_id = ?", id).Delete(&ReservationModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&BookModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

func (s *GormStore) GetBook(ctx context.Context, id uint) (domain.BookView, bool, error) {
	m, ok, err := first[BookModel](s.conn(ctx), id)
	if err != nil || !ok {
		return domain.BookView{}, ok, err
	}
	views, err := s.bookViews(ctx, []BookModel{m})
	if err != nil {
		return domain.BookView{}, false, err
	}
	return views[0], true, nil
}

// ListBooks returns books matching f ordered by title.
func (s *GormStore) ListBooks(ctx context.Context, f BookFilter) ([]domain.BookView, error) {
	q := s.conn(ctx).Model(&BookModel{})
	if term := strings.ToLower(strings.TrimSpace(f.Term)); term != "" {
		like := "%" + term + "%"
		q = q.Where(
			"LOWER(title) LIKE ? OR LOWER(isbn) LIKE ? OR id IN (?)",
			like, like,
			s.conn(ctx).Table("book_author_models AS ba").
				Select("ba.book_id").
				Joins("JOIN author_models a ON a.id = ba.author_id").
				Where("LOWER(a.name) LIKE ?", like),
		)
	}
	if f.AvailableOnly {
		q = q.Where("id IN (?)", s.conn(ctx).Model(&CopyModel{}).Select("book_id").Where("status = ?", string(domain.CopyAvailable)))
	}
	if f.CategoryID != 0 {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if f.PublisherID != 0 {
		q = q.Where("publisher_id = ?", f.PublisherID)
	}
	if f.AuthorID != 0 {
		q = q.Where("id IN (?)", s.conn(ctx).Model(&BookAuthorModel{}).Select("book_id").Where("author_id = ?", f.AuthorID))
	}
	var models []BookModel
	if err := q.Order("title ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return s.bookViews(ctx, models)
}

// CountBooks returns the number of catalog titles.
func (s *GormStore) CountBooks(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&BookModel{}).Count(&count).Error
	return count, err
}

// BooksByCategory counts titles per category, uncategorized books included.
func (s *GormStore) BooksByCategory(ctx context.Context) ([]domain.CategoryCount, error) {
	var rows []struct {
		CategoryID   *uint
		CategoryName *string
		Books        int64
	}
	err := s.conn(ctx).
		Table("book_models AS b").
		Select("b.category_id AS category_id, c.name AS category_name, COUNT(*) AS books").
		Joins("LEFT JOIN category_models c ON c.id = b.category_id").
		Group("b.category_id, c.name").
		Order("books DESC, category_name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.CategoryCount, 0, len(rows))
	for _, r := range rows {
		name := "Uncategorized"
		if r.CategoryName != nil {
			name = *r.CategoryName
		}
		res = append(res, domain.CategoryCount{CategoryID: r.CategoryID, CategoryName: name, Books: r.Books})
	}
	return res, nil
}

// bookViews decorates book rows with names, authors and copy counts using
// one batched query per relation.
func (s *GormStore) bookViews(ctx context.Context, models []BookModel) ([]domain.BookView, error) {
	if len(models) == 0 {
		return []domain.BookView{}, nil
	}
	db := s.conn(ctx)
	bookIDs := make([]uint, 0, len(models))
	var publisherIDs, categoryIDs []uint
	for _, m := range models {
		bookIDs = append(bookIDs, m.ID)
		if m.PublisherID != nil {
			publisherIDs = append(publisherIDs, *m.PublisherID)
		}
		if m.CategoryID != nil {
			categoryIDs = append(categoryIDs, *m.CategoryID)
		}
	}

	publishers := map[uint]string{}
	if len(publisherIDs) > 0 {
		var rows []PublisherModel
		if err := db.Where("id IN ?", dedupeIDs(publisherIDs)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			publishers[r.ID] = r.Name
		}
	}
	categories := map[uint]string{}
	if len(categoryIDs) > 0 {
		var rows []CategoryModel
		if err := db.Where("id IN ?", dedupeIDs(categoryIDs)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			categories[r.ID] = r.Name
		}
	}

	var links []struct {
		BookID uint
		AuthorModel
	}
	if err := db.Table("book_author_models AS ba").
		Select("ba.book_id AS book_id, a.*").
		Joins("JOIN author_models a ON a.id = ba.author_id").
		Where("ba.book_id IN ?", bookIDs).
		Order("a.name ASC, a.id ASC").
		Scan(&links).Error; err != nil {
		return nil, err
	}
	authors := map[uint][]domain.Author{}
	for _, l := range links {
		authors[l.BookID] = append(authors[l.BookID], authorFromModel(l.AuthorModel))
	}

	var counts []struct {
		BookID uint
		Status string
		Copies int
	}
	if err := db.Model(&CopyModel{}).
		Select("book_id, status, COUNT(*) AS copies").
		Where("book_id IN ?", bookIDs).
		Group("book_id, status").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	total := map[uint]int{}
	available := map[uint]int{}
	for _, c := range counts {
		total[c.BookID] += c.Copies
		if c.Status == string(domain.CopyAvailable) {
			available[c.BookID] += c.Copies
		}
	}

	res := make([]domain.BookView, 0, len(models))
	for _, m := range models {
		view := domain.BookView{
			Book:            bookFromModel(m),
			Authors:         authors[m.ID],
			TotalCopies:     total[m.ID],
			AvailableCopies: available[m.ID],
		}
		if view.Authors == nil {
			view.Authors = []domain.Author{}
		}
		view.AuthorIDs = make([]uint, 0, len(view.Authors))
		for _, a := range view.Authors {
			view.AuthorIDs = append(view.AuthorIDs, a.ID)
		}
		if m.PublisherID != nil {
			view.PublisherName = publishers[*m.PublisherID]
		}
		if m.CategoryID != nil {
			view.CategoryName = categories[*m.CategoryID]
		}
		view.Available = view.AvailableCopies > 0
		res = append(res, view)
	}
	return res, nil
}

func replaceBookAuthors(tx *gorm.DB, bookID uint, authorIDs []uint) error {
	if err := tx.Where("book_id = ?", bookID).Delete(&BookAuthorModel{}).Error; err != nil {
		return err
	}
	ids := dedupeIDs(authorIDs)
	if len(ids) == 0 {
		return nil
	}
	links := make([]BookAuthorModel, 0, len(ids))
	for _, id := range ids {
		links = append(links, BookAuthorModel{BookID: bookID, AuthorID: id})
	}
	return translateError(tx.Create(&links).Error)
}

func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func authorFromModel(m AuthorModel) domain.Author {
	return domain.Author{ID: m.ID, Name: m.Name, Nationality: m.Nationality, Biography: m.Biography, CreatedAt: m.CreatedAt}
}

func publisherFromModel(m PublisherModel) domain.Publisher {
	return domain.Publisher{ID: m.ID, Name: m.Name, Country: m.Country, Email: m.Email, Phone: m.Phone, CreatedAt: m.CreatedAt}
}

func categoryFromModel(m CategoryModel) domain.Category {
	return domain.Category{ID: m.ID, Name: m.Name, Description: m.Description, CreatedAt: m.CreatedAt}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:          b.ID,
		Title:       b.Title,
		ISBN:        b.ISBN,
		EditionYear: b.EditionYear,
		PublisherID: b.PublisherID,
		CategoryID:  b.CategoryID,
		Synopsis:    b.Synopsis,
		CoverKey:    b.CoverKey,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		ISBN:        m.ISBN,
		EditionYear: m.EditionYear,
		PublisherID: m.PublisherID,
		CategoryID:  m.CategoryID,
		Synopsis:    m.Synopsis,
		CoverKey:    m.CoverKey,
		HasCover:    m.CoverKey != "",
		AuthorIDs:   []uint{},
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
