package store

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"libraryhub/pkg/domain"
)

// CreateUser inserts a user and sets its ID.
func (s *GormStore) CreateUser(ctx context.Context, u *domain.User) error {
	model := userToModel(*u)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return translateError(err)
	}
	*u = userFromModel(model)
	return nil
}

// UpdateUser overwrites profile, role, status and password hash.
func (s *GormStore) UpdateUser(ctx context.Context, u domain.User) (bool, error) {
	res := s.conn(ctx).Model(&UserModel{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"card_number":   u.CardNumber,
			"name":          u.Name,
			"email":         normalizeEmail(u.Email),
			"phone":         u.Phone,
			"address":       u.Address,
			"password_hash": u.PasswordHash,
			"role":          string(u.Role),
			"status":        string(u.Status),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id uint) (domain.User, bool, error) {
	var model UserModel
	if err := s.conn(ctx).First(&model, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email, case-insensitively.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.conn(ctx).Where("email = ?", normalizeEmail(email)).First(&model).Error; err != nil {
		if notFound(err) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by name.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.conn(ctx).Order("name ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// DeleteUser removes a user and their reservations. Loans and fines keep the
// historical user id.
func (s *GormStore) DeleteUser(ctx context.Context, id uint) (bool, error) {
	var deleted bool
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&ReservationModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&UserModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

type userFineRow struct {
	UserModel
	UnpaidFines      int64
	UnpaidTotalCents int64
}

// UsersWithUnpaidFines lists users owing money, largest debt first.
func (s *GormStore) UsersWithUnpaidFines(ctx context.Context) ([]domain.UserFineSummary, error) {
	var rows []userFineRow
	err := s.conn(ctx).
		Table("user_models AS u").
		Select("u.*, COUNT(f.id) AS unpaid_fines, COALESCE(SUM(f.amount_cents), 0) AS unpaid_total_cents").
		Joins("JOIN fine_models f ON f.user_id = u.id AND f.paid = ?", false).
		Group("u.id").
		Order("unpaid_total_cents DESC, u.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.UserFineSummary, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.UserFineSummary{
			User:             userFromModel(r.UserModel),
			UnpaidFines:      r.UnpaidFines,
			UnpaidTotalCents: r.UnpaidTotalCents,
		})
	}
	return res, nil
}

// CountUsers returns the number of members.
func (s *GormStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&UserModel{}).Count(&count).Error
	return count, err
}

// UsersByRole groups members by role.
func (s *GormStore) UsersByRole(ctx context.Context) ([]domain.RoleCount, error) {
	var rows []struct {
		Role  string
		Users int64
	}
	err := s.conn(ctx).Model(&UserModel{}).
		Select("role, COUNT(*) AS users").
		Group("role").
		Order("role ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.RoleCount, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.RoleCount{Role: domain.UserRole(r.Role), Users: r.Users})
	}
	return res, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		CardNumber:   u.CardNumber,
		Name:         u.Name,
		Email:        normalizeEmail(u.Email),
		Phone:        u.Phone,
		Address:      u.Address,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		CardNumber:   m.CardNumber,
		Name:         m.Name,
		Email:        m.Email,
		Phone:        m.Phone,
		Address:      m.Address,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		Status:       domain.UserStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
