package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/mail"
	"strings"
	"time"

	"libraryhub/internal/util"
	"libraryhub/pkg/auth"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/store"
)

const cardNumberAttempts = 5

// UserInput carries the fields accepted when creating a member.
type UserInput struct {
	CardNumber string
	Name       string
	Email      string
	Phone      string
	Address    string
	Password   string
	Role       domain.UserRole
	Status     domain.UserStatus
}

// UserPatch carries optional member updates; nil fields are left unchanged.
type UserPatch struct {
	CardNumber *string
	Name       *string
	Email      *string
	Phone      *string
	Address    *string
	Password   *string
	Role       *domain.UserRole
	Status     *domain.UserStatus
}

// CreateUser registers a member. Role defaults to Student and status to Active.
func (a *App) CreateUser(ctx context.Context, in UserInput) (domain.User, error) {
	if in.Role == "" {
		in.Role = domain.RoleStudent
	}
	if in.Status == "" {
		in.Status = domain.UserActive
	}
	user := domain.User{
		CardNumber: strings.TrimSpace(in.CardNumber),
		Name:       strings.TrimSpace(in.Name),
		Email:      normalizeEmail(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
		Address:    strings.TrimSpace(in.Address),
		Role:       in.Role,
		Status:     in.Status,
	}
	if err := validateUser(user); err != nil {
		return domain.User{}, err
	}
	if in.Password != "" {
		hash, err := hashPassword(in.Password)
		if err != nil {
			return domain.User{}, err
		}
		user.PasswordHash = hash
	}
	if _, exists, err := a.store.GetUserByEmail(ctx, user.Email); err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	} else if exists {
		return domain.User{}, ErrEmailTaken
	}

	generated := user.CardNumber == ""
	for attempt := 0; ; attempt++ {
		if generated {
			user.CardNumber = newCardNumber()
		}
		err := a.store.CreateUser(ctx, &user)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, fmt.Errorf("create user: %w", err)
		}
		// Either a concurrent signup took the email or the card number collided.
		if _, exists, lookupErr := a.store.GetUserByEmail(ctx, user.Email); lookupErr == nil && exists {
			return domain.User{}, ErrEmailTaken
		}
		if !generated || attempt+1 >= cardNumberAttempts {
			return domain.User{}, duplicate(err, "card number")
		}
	}
	a.invalidateStats()
	util.LoggerFromContext(ctx).Info("user created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// GetUser returns a member by id.
func (a *App) GetUser(ctx context.Context, id uint) (domain.User, error) {
	user, ok, err := a.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, notFound("user", id)
	}
	return user, nil
}

// ListUsers returns every member.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	return a.store.ListUsers(ctx)
}

// UsersWithFines lists members owing unpaid fines with their totals.
func (a *App) UsersWithFines(ctx context.Context) ([]domain.UserFineSummary, error) {
	return a.store.UsersWithUnpaidFines(ctx)
}

// UserHistory returns every loan of a member, newest first.
func (a *App) UserHistory(ctx context.Context, id uint) ([]domain.LoanView, error) {
	if _, err := a.GetUser(ctx, id); err != nil {
		return nil, err
	}
	loans, err := a.store.ListLoans(ctx, store.LoanFilter{UserID: id})
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return a.deriveLoanStatus(loans), nil
}

// UpdateUser applies patch. Suspending a member revokes their sessions.
func (a *App) UpdateUser(ctx context.Context, id uint, patch UserPatch) (domain.User, error) {
	user, err := a.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	previousStatus := user.Status
	if patch.CardNumber != nil {
		user.CardNumber = strings.TrimSpace(*patch.CardNumber)
		if user.CardNumber == "" {
			return domain.User{}, invalid("card number must not be empty")
		}
	}
	if patch.Name != nil {
		user.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		user.Email = normalizeEmail(*patch.Email)
	}
	if patch.Phone != nil {
		user.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Address != nil {
		user.Address = strings.TrimSpace(*patch.Address)
	}
	if patch.Role != nil {
		user.Role = *patch.Role
	}
	if patch.Status != nil {
		user.Status = *patch.Status
	}
	if err := validateUser(user); err != nil {
		return domain.User{}, err
	}
	if patch.Password != nil {
		hash, err := hashPassword(*patch.Password)
		if err != nil {
			return domain.User{}, err
		}
		user.PasswordHash = hash
	}
	if patch.Email != nil {
		other, exists, err := a.store.GetUserByEmail(ctx, user.Email)
		if err != nil {
			return domain.User{}, fmt.Errorf("check email: %w", err)
		}
		if exists && other.ID != user.ID {
			return domain.User{}, ErrEmailTaken
		}
	}
	ok, err := a.store.UpdateUser(ctx, user)
	if err != nil {
		return domain.User{}, duplicate(err, "user")
	}
	if !ok {
		return domain.User{}, notFound("user", id)
	}
	if previousStatus != domain.UserSuspended && user.Status == domain.UserSuspended {
		a.revokeSessions(ctx, user.ID)
	}
	a.invalidateStats()
	return a.GetUser(ctx, id)
}

// DeleteUser removes a member with no open loans and no unpaid fines, along
// with their reservations.
func (a *App) DeleteUser(ctx context.Context, id uint) error {
	err := a.store.Tx(ctx, func(tx store.Store) error {
		if _, ok, err := tx.GetUser(ctx, id); err != nil {
			return fmt.Errorf("fetch user: %w", err)
		} else if !ok {
			return notFound("user", id)
		}
		open, err := tx.CountLoans(ctx, store.LoanFilter{UserID: id, OpenOnly: true})
		if err != nil {
			return fmt.Errorf("count loans: %w", err)
		}
		if open > 0 {
			return inUse("user has open loans")
		}
		unpaid, err := tx.ListFines(ctx, store.FineFilter{UserID: id, UnpaidOnly: true})
		if err != nil {
			return fmt.Errorf("list fines: %w", err)
		}
		if len(unpaid) > 0 {
			return inUse("user has unpaid fines")
		}
		ok, err := tx.DeleteUser(ctx, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if !ok {
			return notFound("user", id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.revokeSessions(ctx, id)
	a.invalidateStats()
	return nil
}

func (a *App) revokeSessions(ctx context.Context, userID uint) {
	if a.sessions == nil {
		return
	}
	// Cutoffs compare against token issue times, which use the wall clock.
	if err := a.sessions.RevokeUserSessions(userID, time.Now().UTC()); err != nil {
		util.LoggerFromContext(ctx).Error("revoke user sessions failed", "user_id", userID, "err", err)
	}
}

func validateUser(u domain.User) error {
	if u.Name == "" {
		return invalid("name is required")
	}
	if u.Email == "" {
		return invalid("email is required")
	}
	if addr, err := mail.ParseAddress(u.Email); err != nil || addr.Address != u.Email {
		return invalid("email %q is not valid", u.Email)
	}
	if !u.Role.Valid() {
		return invalid("unknown role %q", u.Role)
	}
	if !u.Status.Valid() {
		return invalid("unknown status %q", u.Status)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	if err := auth.ValidatePassword(password); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newCardNumber() string {
	return fmt.Sprintf("USR%06d", rand.IntN(1_000_000))
}
