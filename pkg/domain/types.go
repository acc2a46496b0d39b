package domain

import "time"

type UserRole string

const (
	RoleStudent   UserRole = "Student"
	RoleProfessor UserRole = "Professor"
	RoleStaff     UserRole = "Staff"
	RoleLibrarian UserRole = "Librarian"
	RoleExternal  UserRole = "External"
)

// Valid reports whether r is one of the known membership roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleProfessor, RoleStaff, RoleLibrarian, RoleExternal:
		return true
	}
	return false
}

// IsAdministrative is the single authorization capability check used by
// every catalog and membership mutation.
func IsAdministrative(role UserRole) bool {
	return role == RoleStaff || role == RoleLibrarian
}

type UserStatus string

const (
	UserActive    UserStatus = "Active"
	UserSuspended UserStatus = "Suspended"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserSuspended
}

type CopyStatus string

const (
	CopyAvailable CopyStatus = "Available"
	CopyLoaned    CopyStatus = "Loaned"
	CopyRepair    CopyStatus = "Repair"
	CopyLost      CopyStatus = "Lost"
)

func (s CopyStatus) Valid() bool {
	switch s {
	case CopyAvailable, CopyLoaned, CopyRepair, CopyLost:
		return true
	}
	return false
}

type LoanStatus string

const (
	LoanActive   LoanStatus = "Active"
	LoanOverdue  LoanStatus = "Overdue"
	LoanReturned LoanStatus = "Returned"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "Pending"
	ReservationReady     ReservationStatus = "Ready"
	ReservationCompleted ReservationStatus = "Completed"
	ReservationCancelled ReservationStatus = "Cancelled"
)

// Open reports whether the reservation can still be completed or cancelled.
func (s ReservationStatus) Open() bool {
	return s == ReservationPending || s == ReservationReady
}

type User struct {
	ID           uint       `json:"id"`
	CardNumber   string     `json:"cardNumber"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Address      string     `json:"address,omitempty"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Author struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Nationality string    `json:"nationality,omitempty"`
	Biography   string    `json:"biography,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Publisher struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Category struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Book struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	ISBN        string    `json:"isbn,omitempty"`
	EditionYear int       `json:"editionYear,omitempty"`
	PublisherID *uint     `json:"publisherId,omitempty"`
	CategoryID  *uint     `json:"categoryId,omitempty"`
	Synopsis    string    `json:"synopsis,omitempty"`
	CoverKey    string    `json:"-"`
	HasCover    bool      `json:"hasCover"`
	AuthorIDs   []uint    `json:"authorIds"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BookView is a Book joined with the names and stock counts shown in listings.
type BookView struct {
	Book
	PublisherName   string   `json:"publisherName,omitempty"`
	CategoryName    string   `json:"categoryName,omitempty"`
	Authors         []Author `json:"authors"`
	TotalCopies     int      `json:"totalCopies"`
	AvailableCopies int      `json:"availableCopies"`
	Available       bool     `json:"available"`
}

type Copy struct {
	ID         uint       `json:"id"`
	BookID     uint       `json:"bookId"`
	Barcode    string     `json:"barcode"`
	Sequence   int        `json:"sequence"`
	Location   string     `json:"location"`
	Status     CopyStatus `json:"status"`
	StatusNote string     `json:"statusNote,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type Loan struct {
	ID         uint       `json:"id"`
	UserID     uint       `json:"userId"`
	CopyID     uint       `json:"copyId"`
	BookID     uint       `json:"bookId"`
	LoanDate   time.Time  `json:"loanDate"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	Status     LoanStatus `json:"status"`
	Renewals   int        `json:"renewals"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Open reports whether the loan has not been returned yet.
func (l Loan) Open() bool {
	return l.ReturnedAt == nil && l.Status != LoanReturned
}

// StatusAt derives the loan status at now. Overdue is never stored.
func (l Loan) StatusAt(now time.Time) LoanStatus {
	if !l.Open() {
		return LoanReturned
	}
	if now.After(l.DueDate) {
		return LoanOverdue
	}
	return LoanActive
}

type LoanView struct {
	Loan
	UserName  string `json:"userName,omitempty"`
	BookTitle string `json:"bookTitle,omitempty"`
	Barcode   string `json:"barcode,omitempty"`
}

type Reservation struct {
	ID          uint              `json:"id"`
	UserID      uint              `json:"userId"`
	BookID      uint              `json:"bookId"`
	RequestDate time.Time         `json:"requestDate"`
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type ReservationView struct {
	Reservation
	UserName  string `json:"userName,omitempty"`
	BookTitle string `json:"bookTitle,omitempty"`
}

type Fine struct {
	ID          uint       `json:"id"`
	LoanID      uint       `json:"loanId"`
	UserID      uint       `json:"userId"`
	AmountCents int64      `json:"amountCents"`
	DaysLate    int        `json:"daysLate"`
	Paid        bool       `json:"paid"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type FineView struct {
	Fine
	UserName  string `json:"userName,omitempty"`
	BookTitle string `json:"bookTitle,omitempty"`
}
