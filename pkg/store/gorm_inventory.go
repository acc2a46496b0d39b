package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"libraryhub/pkg/domain"
)

// AllocateCopySequence bumps the book's sequence counter by n and returns the
// first number of the reserved range. The UPDATE takes the row lock, so
// concurrent allocations for the same book never overlap.
func (s *GormStore) AllocateCopySequence(ctx context.Context, bookID uint, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("allocate copy sequence: n must be positive")
	}
	var start int
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BookModel{}).
			Where("id = ?", bookID).
			Update("last_copy_seq", gorm.Expr("last_copy_seq + ?", n))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var book BookModel
		if err := tx.Select("last_copy_seq").First(&book, "id = ?", bookID).Error; err != nil {
			return err
		}
		start = book.LastCopySeq - n + 1
		return nil
	})
	return start, err
}

func (s *GormStore) CreateCopies(ctx context.Context, copies []domain.Copy) ([]domain.Copy, error) {
	if len(copies) == 0 {
		return []domain.Copy{}, nil
	}
	now := time.Now().UTC()
	models := make([]CopyModel, 0, len(copies))
	for _, c := range copies {
		m := copyToModel(c)
		m.CreatedAt = now
		m.UpdatedAt = now
		models = append(models, m)
	}
	if err := s.conn(ctx).Create(&models).Error; err != nil {
		return nil, translateError(err)
	}
	res := make([]domain.Copy, 0, len(models))
	for _, m := range models {
		res = append(res, copyFromModel(m))
	}
	return res, nil
}

func (s *GormStore) GetCopy(ctx context.Context, id uint) (domain.Copy, bool, error) {
	m, ok, err := first[CopyModel](s.forUpdate(s.conn(ctx)), id)
	return copyFromModel(m), ok, err
}

func (s *GormStore) ListCopies(ctx context.Context, f CopyFilter) ([]domain.Copy, error) {
	var models []CopyModel
	if err := copyFilter(s.conn(ctx).Model(&CopyModel{}), f).
		Order("book_id ASC, sequence ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Copy, 0, len(models))
	for _, m := range models {
		res = append(res, copyFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CountCopies(ctx context.Context, f CopyFilter) (int64, error) {
	var count int64
	err := copyFilter(s.conn(ctx).Model(&CopyModel{}), f).Count(&count).Error
	return count, err
}

func (s *GormStore) LockAvailableCopies(ctx context.Context, bookID uint, limit int) ([]domain.Copy, error) {
	var models []CopyModel
	q := s.forUpdate(s.conn(ctx)).
		Where("book_id = ? AND status = ?", bookID, string(domain.CopyAvailable)).
		Order("sequence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Copy, 0, len(models))
	for _, m := range models {
		res = append(res, copyFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteAvailableCopies(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.conn(ctx).
		Where("id IN ? AND status = ?", ids, string(domain.CopyAvailable)).
		Delete(&CopyModel{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) TransitionCopy(ctx context.Context, id uint, from []domain.CopyStatus, to domain.CopyStatus, note string) (bool, error) {
	q := s.conn(ctx).Model(&CopyModel{}).Where("id = ?", id)
	if len(from) > 0 {
		statuses := make([]string, 0, len(from))
		for _, st := range from {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	res := q.Updates(map[string]any{
		"status":      string(to),
		"status_note": note,
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func copyFilter(q *gorm.DB, f CopyFilter) *gorm.DB {
	if f.BookID != 0 {
		q = q.Where("book_id = ?", f.BookID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	return q
}

func copyToModel(c domain.Copy) CopyModel {
	return CopyModel{
		ID:         c.ID,
		BookID:     c.BookID,
		Sequence:   c.Sequence,
		Barcode:    c.Barcode,
		Location:   c.Location,
		Status:     string(c.Status),
		StatusNote: c.StatusNote,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func copyFromModel(m CopyModel) domain.Copy {
	return domain.Copy{
		ID:         m.ID,
		BookID:     m.BookID,
		Sequence:   m.Sequence,
		Barcode:    m.Barcode,
		Location:   m.Location,
		Status:     domain.CopyStatus(m.Status),
		StatusNote: m.StatusNote,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
