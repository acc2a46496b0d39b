package app

import (
	"context"
	"errors"
	"fmt"

	"libraryhub/internal/util"
	"libraryhub/pkg/auth"
	"libraryhub/pkg/domain"
)

var errSessionsDisabled = errors.New("sessions are not configured")

// RegisterInput carries self-service signup fields.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
	Address  string
}

// Register creates an External member and signs them in.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, string, error) {
	if in.Password == "" {
		return domain.User{}, "", invalid("password is required")
	}
	user, err := a.CreateUser(ctx, UserInput{
		Name:     in.Name,
		Email:    in.Email,
		Phone:    in.Phone,
		Address:  in.Address,
		Password: in.Password,
		Role:     domain.RoleExternal,
		Status:   domain.UserActive,
	})
	if err != nil {
		return domain.User{}, "", err
	}
	token, err := a.issueSession(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// Login validates credentials and issues a session token. Suspended members
// may sign in; they cannot borrow.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.issueSession(user)
	if err != nil {
		return domain.User{}, "", err
	}
	util.LoggerFromContext(ctx).Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Logout revokes the token until it expires.
func (a *App) Logout(token string) error {
	if a.sessions == nil {
		return errSessionsDisabled
	}
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves the member behind a session token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	if a.sessions == nil {
		return domain.User{}, ErrUnauthorized
	}
	id, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, ErrUnauthorized
	}
	return a.userForIdentity(ctx, id)
}

// UserFromID resolves a caller-asserted member id.
func (a *App) UserFromID(ctx context.Context, id uint) (domain.User, error) {
	return a.userForIdentity(ctx, id)
}

func (a *App) userForIdentity(ctx context.Context, id uint) (domain.User, error) {
	user, ok, err := a.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

func (a *App) issueSession(user domain.User) (string, error) {
	if a.sessions == nil {
		return "", errSessionsDisabled
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}
