package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"libraryhub/pkg/domain"
)

// loans

type loanRow struct {
	LoanModel
	UserName  *string
	BookTitle *string
	Barcode   *string
}

func (s *GormStore) CreateLoan(ctx context.Context, l *domain.Loan) error {
	model := loanToModel(*l)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return translateError(err)
	}
	*l = loanFromModel(model)
	return nil
}

func (s *GormStore) GetLoan(ctx context.Context, id uint) (domain.LoanView, bool, error) {
	var rows []loanRow
	if err := s.loanQuery(ctx).Where("l.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return domain.LoanView{}, false, err
	}
	if len(rows) == 0 {
		return domain.LoanView{}, false, nil
	}
	return loanViewFromRow(rows[0]), true, nil
}

// ListLoans returns loans newest first.
func (s *GormStore) ListLoans(ctx context.Context, f LoanFilter) ([]domain.LoanView, error) {
	q := loanFilter(s.loanQuery(ctx), f, "l.").Order("l.loan_date DESC, l.id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []loanRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LoanView, 0, len(rows))
	for _, r := range rows {
		res = append(res, loanViewFromRow(r))
	}
	return res, nil
}

func (s *GormStore) CountLoans(ctx context.Context, f LoanFilter) (int64, error) {
	var count int64
	err := loanFilter(s.conn(ctx).Model(&LoanModel{}), f, "").Count(&count).Error
	return count, err
}

func (s *GormStore) ExtendLoan(ctx context.Context, id uint, renewals int, due time.Time) (bool, error) {
	res := s.conn(ctx).Model(&LoanModel{}).
		Where("id = ? AND status = ? AND renewals = ?", id, string(domain.LoanActive), renewals).
		Updates(map[string]any{
			"due_date":   due.UTC(),
			"renewals":   gorm.Expr("renewals + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CloseLoan(ctx context.Context, id uint, returnedAt time.Time) (bool, error) {
	res := s.conn(ctx).Model(&LoanModel{}).
		Where("id = ? AND status = ?", id, string(domain.LoanActive)).
		Updates(map[string]any{
			"returned_at": returnedAt.UTC(),
			"status":      string(domain.LoanReturned),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) loanQuery(ctx context.Context) *gorm.DB {
	return s.conn(ctx).
		Table("loan_models AS l").
		Select("l.*, u.name AS user_name, b.title AS book_title, c.barcode AS barcode").
		Joins("LEFT JOIN user_models u ON u.id = l.user_id").
		Joins("LEFT JOIN book_models b ON b.id = l.book_id").
		Joins("LEFT JOIN copy_models c ON c.id = l.copy_id")
}

func loanFilter(q *gorm.DB, f LoanFilter, prefix string) *gorm.DB {
	if f.UserID != 0 {
		q = q.Where(prefix+"user_id = ?", f.UserID)
	}
	if f.OpenOnly {
		q = q.Where(prefix+"status = ?", string(domain.LoanActive))
	}
	if f.Since != nil {
		q = q.Where(prefix+"loan_date >= ?", f.Since.UTC())
	}
	return q
}

// fines

type fineRow struct {
	FineModel
	UserName  *string
	BookTitle *string
}

func (s *GormStore) CreateFine(ctx context.Context, f *domain.Fine) error {
	model := fineToModel(*f)
	model.CreatedAt = time.Now().UTC()
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return translateError(err)
	}
	*f = fineFromModel(model)
	return nil
}

func (s *GormStore) GetFine(ctx context.Context, id uint) (domain.FineView, bool, error) {
	var rows []fineRow
	if err := s.fineQuery(ctx).Where("f.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return domain.FineView{}, false, err
	}
	if len(rows) == 0 {
		return domain.FineView{}, false, nil
	}
	return fineViewFromRow(rows[0]), true, nil
}

func (s *GormStore) GetFineByLoan(ctx context.Context, loanID uint) (domain.Fine, bool, error) {
	var model FineModel
	if err := s.conn(ctx).Where("loan_id = ?", loanID).First(&model).Error; err != nil {
		if notFound(err) {
			return domain.Fine{}, false, nil
		}
		return domain.Fine{}, false, err
	}
	return fineFromModel(model), true, nil
}

func (s *GormStore) ListFines(ctx context.Context, f FineFilter) ([]domain.FineView, error) {
	q := s.fineQuery(ctx)
	if f.UserID != 0 {
		q = q.Where("f.user_id = ?", f.UserID)
	}
	if f.UnpaidOnly {
		q = q.Where("f.paid = ?", false)
	}
	var rows []fineRow
	if err := q.Order("f.created_at DESC, f.id DESC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FineView, 0, len(rows))
	for _, r := range rows {
		res = append(res, fineViewFromRow(r))
	}
	return res, nil
}

func (s *GormStore) MarkFinePaid(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&FineModel{}).
		Where("id = ? AND paid = ?", id, false).
		Updates(map[string]any{
			"paid":         true,
			"payment_date": datatypes.Date(at.UTC()),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) DeleteUnpaidFine(ctx context.Context, id uint) (bool, error) {
	res := s.conn(ctx).Where("id = ? AND paid = ?", id, false).Delete(&FineModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) UnpaidFineTotals(ctx context.Context) (int64, int64, error) {
	var row struct {
		Fines int64
		Cents int64
	}
	err := s.conn(ctx).Model(&FineModel{}).
		Select("COUNT(*) AS fines, COALESCE(SUM(amount_cents), 0) AS cents").
		Where("paid = ?", false).
		Scan(&row).Error
	return row.Fines, row.Cents, err
}

func (s *GormStore) fineQuery(ctx context.Context) *gorm.DB {
	return s.conn(ctx).
		Table("fine_models AS f").
		Select("f.*, u.name AS user_name, b.title AS book_title").
		Joins("LEFT JOIN user_models u ON u.id = f.user_id").
		Joins("LEFT JOIN loan_models l ON l.id = f.loan_id").
		Joins("LEFT JOIN book_models b ON b.id = l.book_id")
}

// reservations

type reservationRow struct {
	ReservationModel
	UserName  *string
	BookTitle *string
}

func (s *GormStore) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	model := reservationToModel(*r)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return translateError(err)
	}
	*r = reservationFromModel(model)
	return nil
}

func (s *GormStore) GetReservation(ctx context.Context, id uint) (domain.ReservationView, bool, error) {
	var rows []reservationRow
	if err := s.reservationQuery(ctx).Where("r.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return domain.ReservationView{}, false, err
	}
	if len(rows) == 0 {
		return domain.ReservationView{}, false, nil
	}
	return reservationViewFromRow(rows[0]), true, nil
}

// ListReservations returns reservations oldest first, the queue order.
func (s *GormStore) ListReservations(ctx context.Context, f ReservationFilter) ([]domain.ReservationView, error) {
	var rows []reservationRow
	if err := reservationFilter(s.reservationQuery(ctx), f, "r.").
		Order("r.request_date ASC, r.id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ReservationView, 0, len(rows))
	for _, r := range rows {
		res = append(res, reservationViewFromRow(r))
	}
	return res, nil
}

func (s *GormStore) CountReservations(ctx context.Context, f ReservationFilter) (int64, error) {
	var count int64
	err := reservationFilter(s.conn(ctx).Model(&ReservationModel{}), f, "").Count(&count).Error
	return count, err
}

func (s *GormStore) TransitionReservation(ctx context.Context, id uint, from []domain.ReservationStatus, to domain.ReservationStatus) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, st := range from {
		statuses = append(statuses, string(st))
	}
	res := s.conn(ctx).Model(&ReservationModel{}).
		Where("id = ? AND status IN ?", id, statuses).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) DeleteReservation(ctx context.Context, id uint) (bool, error) {
	return deleteByID[ReservationModel](s.conn(ctx), id)
}

func (s *GormStore) reservationQuery(ctx context.Context) *gorm.DB {
	return s.conn(ctx).
		Table("reservation_models AS r").
		Select("r.*, u.name AS user_name, b.title AS book_title").
		Joins("LEFT JOIN user_models u ON u.id = r.user_id").
		Joins("LEFT JOIN book_models b ON b.id = r.book_id")
}

func reservationFilter(q *gorm.DB, f ReservationFilter, prefix string) *gorm.DB {
	if f.UserID != 0 {
		q = q.Where(prefix+"user_id = ?", f.UserID)
	}
	if f.BookID != 0 {
		q = q.Where(prefix+"book_id = ?", f.BookID)
	}
	if f.Status != "" {
		q = q.Where(prefix+"status = ?", string(f.Status))
	}
	return q
}

// converters

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func loanToModel(l domain.Loan) LoanModel {
	return LoanModel{
		ID:         l.ID,
		UserID:     l.UserID,
		CopyID:     l.CopyID,
		BookID:     l.BookID,
		LoanDate:   l.LoanDate.UTC(),
		DueDate:    l.DueDate.UTC(),
		ReturnedAt: l.ReturnedAt,
		Status:     string(l.Status),
		Renewals:   l.Renewals,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:         m.ID,
		UserID:     m.UserID,
		CopyID:     m.CopyID,
		BookID:     m.BookID,
		LoanDate:   m.LoanDate.UTC(),
		DueDate:    m.DueDate.UTC(),
		ReturnedAt: utcPtr(m.ReturnedAt),
		Status:     domain.LoanStatus(m.Status),
		Renewals:   m.Renewals,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func loanViewFromRow(r loanRow) domain.LoanView {
	return domain.LoanView{
		Loan:      loanFromModel(r.LoanModel),
		UserName:  deref(r.UserName),
		BookTitle: deref(r.BookTitle),
		Barcode:   deref(r.Barcode),
	}
}

func fineToModel(f domain.Fine) FineModel {
	m := FineModel{
		ID:          f.ID,
		LoanID:      f.LoanID,
		UserID:      f.UserID,
		AmountCents: f.AmountCents,
		DaysLate:    f.DaysLate,
		Paid:        f.Paid,
		CreatedAt:   f.CreatedAt,
	}
	if f.PaymentDate != nil {
		d := datatypes.Date(f.PaymentDate.UTC())
		m.PaymentDate = &d
	}
	return m
}

func fineFromModel(m FineModel) domain.Fine {
	f := domain.Fine{
		ID:          m.ID,
		LoanID:      m.LoanID,
		UserID:      m.UserID,
		AmountCents: m.AmountCents,
		DaysLate:    m.DaysLate,
		Paid:        m.Paid,
		CreatedAt:   m.CreatedAt,
	}
	if m.PaymentDate != nil {
		t := time.Time(*m.PaymentDate).UTC()
		f.PaymentDate = &t
	}
	return f
}

func fineViewFromRow(r fineRow) domain.FineView {
	return domain.FineView{
		Fine:      fineFromModel(r.FineModel),
		UserName:  deref(r.UserName),
		BookTitle: deref(r.BookTitle),
	}
}

func reservationToModel(r domain.Reservation) ReservationModel {
	return ReservationModel{
		ID:          r.ID,
		UserID:      r.UserID,
		BookID:      r.BookID,
		RequestDate: datatypes.Date(r.RequestDate.UTC()),
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func reservationFromModel(m ReservationModel) domain.Reservation {
	return domain.Reservation{
		ID:          m.ID,
		UserID:      m.UserID,
		BookID:      m.BookID,
		RequestDate: time.Time(m.RequestDate).UTC(),
		Status:      domain.ReservationStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func reservationViewFromRow(r reservationRow) domain.ReservationView {
	return domain.ReservationView{
		Reservation: reservationFromModel(r.ReservationModel),
		UserName:    deref(r.UserName),
		BookTitle:   deref(r.BookTitle),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
