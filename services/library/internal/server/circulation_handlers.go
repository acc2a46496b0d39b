package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) loanRoutes(r chi.Router) {
	admin := r.With(s.requireAdmin)
	r.Get("/loans", s.handleListLoans)
	r.Get("/loans/active", s.handleActiveLoans)
	admin.Get("/loans/overdue", s.handleOverdueLoans)
	r.Get("/loans/{id}", s.handleGetLoan)
	r.Post("/loans", s.handleCreateLoan)
	r.Post("/loans/{id}/renew", s.handleRenewLoan)
	r.Post("/loans/{id}/return", s.handleReturnLoan)
}

func (s *Server) fineRoutes(r chi.Router) {
	r.Route("/fines", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/", s.handleListFines)
		r.Get("/unpaid", s.handleUnpaidFines)
		r.Get("/calculate/{loanId}", s.handleCalculateFine)
		r.Get("/{id}", s.handleGetFine)
		r.Put("/{id}/pay", s.handlePayFine)
		r.Delete("/{id}", s.handleDeleteFine)
	})
}

func (s *Server) reservationRoutes(r chi.Router) {
	r.Get("/reservations", s.handleListReservations)
	r.Get("/reservations/{id}", s.handleGetReservation)
	r.Post("/reservations", s.handleCreateReservation)
	r.Put("/reservations/{id}/complete", s.handleCompleteReservation)
	r.Put("/reservations/{id}/cancel", s.handleCancelReservation)
	r.With(s.requireAdmin).Delete("/reservations/{id}", s.handleDeleteReservation)
}

type createLoanRequest struct {
	UserID   uint `json:"userId"`
	CopyID   uint `json:"copyId"`
	LoanDays int  `json:"loanDays"`
}

type renewLoanRequest struct {
	ExtraDays int `json:"extraDays"`
}

type createReservationRequest struct {
	UserID uint `json:"userId"`
	BookID uint `json:"bookId"`
}

// loans

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.app.ListLoans(r.Context(), currentActor(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, loans)
}

func (s *Server) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.app.ActiveLoans(r.Context(), currentActor(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, loans)
}

func (s *Server) handleOverdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.app.OverdueLoans(r.Context(), currentActor(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, loans)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	loan, err := s.app.GetLoan(r.Context(), currentActor(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	actor := currentActor(r)
	if req.UserID == 0 {
		req.UserID = actor.ID
	}
	if req.LoanDays == 0 {
		req.LoanDays = s.app.DefaultLoanDays()
	}
	loan, err := s.app.CreateLoan(r.Context(), actor, req.UserID, req.CopyID, req.LoanDays)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleRenewLoan(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req renewLoanRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	if req.ExtraDays == 0 {
		req.ExtraDays = s.app.DefaultRenewDays()
	}
	loan, err := s.app.RenewLoan(r.Context(), currentActor(r), id, req.ExtraDays)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.ReturnLoan(r.Context(), currentActor(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fines

func (s *Server) handleListFines(w http.ResponseWriter, r *http.Request) {
	fines, err := s.app.ListFines(r.Context(), false)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, fines)
}

func (s *Server) handleUnpaidFines(w http.ResponseWriter, r *http.Request) {
	fines, err := s.app.ListFines(r.Context(), true)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, fines)
}

func (s *Server) handleCalculateFine(w http.ResponseWriter, r *http.Request) {
	loanID, err := idParam(r, "loanId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	quote, err := s.app.CalculateFine(r.Context(), loanID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleGetFine(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	fine, err := s.app.GetFine(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fine)
}

func (s *Server) handlePayFine(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	fine, err := s.app.PayFine(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.fine.pay", "success", "fine_id", id, "amount_cents", fine.AmountCents)
	writeJSON(w, http.StatusOK, fine)
}

func (s *Server) handleDeleteFine(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.DeleteFine(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.fine.delete", "success", "fine_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// reservations

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListReservations(r.Context(), currentActor(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.GetReservation(r.Context(), currentActor(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.CreateReservation(r.Context(), currentActor(r), req.UserID, req.BookID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleCompleteReservation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.CompleteReservation(r.Context(), currentActor(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.CancelReservation(r.Context(), currentActor(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.DeleteReservation(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.reservation.delete", "success", "reservation_id", id)
	w.WriteHeader(http.StatusNoContent)
}
