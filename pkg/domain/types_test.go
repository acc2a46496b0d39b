package domain

import (
	"testing"
	"time"
)

func TestIsAdministrative(t *testing.T) {
	admin := map[UserRole]bool{
		RoleStaff:     true,
		RoleLibrarian: true,
		RoleStudent:   false,
		RoleProfessor: false,
		RoleExternal:  false,
		"":            false,
	}
	for role, want := range admin {
		if got := IsAdministrative(role); got != want {
			t.Fatalf("IsAdministrative(%q) = %v, want %v", role, got, want)
		}
	}
}

func TestLoanStatusAtDerivesOverdue(t *testing.T) {
	due := time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC)
	loan := Loan{Status: LoanActive, DueDate: due}
	if got := loan.StatusAt(due); got != LoanActive {
		t.Fatalf("status at due = %s, want Active", got)
	}
	if got := loan.StatusAt(due.Add(time.Second)); got != LoanOverdue {
		t.Fatalf("status after due = %s, want Overdue", got)
	}
	returned := due.Add(48 * time.Hour)
	loan.ReturnedAt = &returned
	loan.Status = LoanReturned
	if got := loan.StatusAt(due.Add(72 * time.Hour)); got != LoanReturned {
		t.Fatalf("status after return = %s, want Returned", got)
	}
}

func TestDaysLateFloorsAndClamps(t *testing.T) {
	due := time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		at   time.Time
		want int
	}{
		{due.Add(-72 * time.Hour), 0},
		{due, 0},
		{due.Add(23 * time.Hour), 0},
		{due.Add(24 * time.Hour), 1},
		{time.Date(2024, 12, 4, 0, 0, 0, 0, time.UTC), 5},
		{time.Date(2024, 12, 4, 23, 59, 0, 0, time.UTC), 5},
	}
	for _, tc := range cases {
		if got := DaysLate(due, tc.at); got != tc.want {
			t.Fatalf("DaysLate(%v) = %d, want %d", tc.at, got, tc.want)
		}
	}
}

func TestFineAmountMonotonic(t *testing.T) {
	prev := int64(-1)
	for days := -3; days <= 60; days++ {
		got := FineAmount(days, 200)
		if got < 0 {
			t.Fatalf("FineAmount(%d) negative: %d", days, got)
		}
		if days <= 0 && got != 0 {
			t.Fatalf("FineAmount(%d) = %d, want 0", days, got)
		}
		if got < prev {
			t.Fatalf("FineAmount not monotonic at %d: %d < %d", days, got, prev)
		}
		prev = got
	}
	if got := FineAmount(5, 200); got != 1000 {
		t.Fatalf("FineAmount(5, 200) = %d, want 1000", got)
	}
}
