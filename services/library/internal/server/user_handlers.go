package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"libraryhub/pkg/domain"
	"libraryhub/services/library/internal/app"
)

func (s *Server) userRoutes(r chi.Router) {
	admin := r.With(s.requireAdmin)
	admin.Get("/users", s.handleListUsers)
	admin.Get("/users/with-fines", s.handleUsersWithFines)
	admin.Post("/users", s.handleCreateUser)
	admin.Put("/users/{id}", s.handleUpdateUser)
	admin.Delete("/users/{id}", s.handleDeleteUser)
	r.Get("/users/{id}", s.handleGetUser)
	r.Get("/users/{id}/history", s.handleUserHistory)
}

type createUserRequest struct {
	CardNumber string            `json:"cardNumber"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Phone      string            `json:"phone"`
	Address    string            `json:"address"`
	Password   string            `json:"password"`
	Role       domain.UserRole   `json:"role"`
	Status     domain.UserStatus `json:"status"`
}

type updateUserRequest struct {
	CardNumber *string            `json:"cardNumber"`
	Name       *string            `json:"name"`
	Email      *string            `json:"email"`
	Phone      *string            `json:"phone"`
	Address    *string            `json:"address"`
	Password   *string            `json:"password"`
	Role       *domain.UserRole   `json:"role"`
	Status     *domain.UserStatus `json:"status"`
}

// selfOrAdmin resolves the {id} path parameter, which members may only use
// for themselves.
func selfOrAdmin(r *http.Request) (uint, error) {
	id, err := idParam(r, "id")
	if err != nil {
		return 0, err
	}
	actor := currentActor(r)
	if !actor.Admin() && actor.ID != id {
		return 0, fmt.Errorf("%w: members may only view themselves", app.ErrForbidden)
	}
	return id, nil
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, users)
}

func (s *Server) handleUsersWithFines(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.UsersWithFines(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := selfOrAdmin(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, err := s.app.GetUser(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	id, err := selfOrAdmin(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	loans, err := s.app.UserHistory(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, loans)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, err := s.app.CreateUser(r.Context(), app.UserInput{
		CardNumber: req.CardNumber,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Address:    req.Address,
		Password:   req.Password,
		Role:       req.Role,
		Status:     req.Status,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.user.create", "success", "user_id", user.ID, "role", string(user.Role))
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, err := s.app.UpdateUser(r.Context(), id, app.UserPatch{
		CardNumber: req.CardNumber,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Address:    req.Address,
		Password:   req.Password,
		Role:       req.Role,
		Status:     req.Status,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.user.update", "success", "user_id", id, "status", string(user.Status))
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.DeleteUser(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.user.delete", "success", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}
