package server

import "net/http"

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.app.Dashboard(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleBooksByCategory(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.BooksByCategory(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleUsersByRole(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.UsersByRole(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleRecentLoans(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	items, err := s.app.RecentLoans(r.Context(), limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleMonthlyLoans(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.MonthlyLoans(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}
