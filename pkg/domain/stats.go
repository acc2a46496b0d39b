package domain

type Dashboard struct {
	TotalBooks            int64 `json:"totalBooks"`
	TotalCopies           int64 `json:"totalCopies"`
	AvailableCopies       int64 `json:"availableCopies"`
	TotalUsers            int64 `json:"totalUsers"`
	ActiveLoans           int64 `json:"activeLoans"`
	OverdueLoans          int64 `json:"overdueLoans"`
	PendingReservations   int64 `json:"pendingReservations"`
	UnpaidFines           int64 `json:"unpaidFines"`
	UnpaidFinesTotalCents int64 `json:"unpaidFinesTotalCents"`
}

type CategoryCount struct {
	CategoryID   *uint  `json:"categoryId,omitempty"`
	CategoryName string `json:"categoryName"`
	Books        int64  `json:"books"`
}

type RoleCount struct {
	Role  UserRole `json:"role"`
	Users int64    `json:"users"`
}

type MonthlyLoanStats struct {
	Month    string `json:"month"`
	Loans    int    `json:"loans"`
	Returned int    `json:"returned"`
}

// UserFineSummary aggregates the unpaid fines of one user.
type UserFineSummary struct {
	User
	UnpaidFines      int64 `json:"unpaidFines"`
	UnpaidTotalCents int64 `json:"unpaidTotalCents"`
}
