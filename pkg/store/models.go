package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           uint   `gorm:"primaryKey"`
	CardNumber   string `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	Phone        string
	Address      string
	PasswordHash string
	Role         string    `gorm:"not null;index"`
	Status       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type AuthorModel struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"not null;index"`
	Nationality string
	Biography   string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
}

type PublisherModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Country   string
	Email     string
	Phone     string
	CreatedAt time.Time `gorm:"not null"`
}

type CategoryModel struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null"`
}

type BookModel struct {
	ID          uint   `gorm:"primaryKey"`
	Title       string `gorm:"not null;index"`
	ISBN        string `gorm:"index"`
	EditionYear int
	PublisherID *uint  `gorm:"index"`
	CategoryID  *uint  `gorm:"index"`
	Synopsis    string `gorm:"type:text"`
	CoverKey    string
	// LastCopySeq is the highest barcode sequence ever assigned.
	LastCopySeq int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type BookAuthorModel struct {
	BookID   uint `gorm:"primaryKey"`
	AuthorID uint `gorm:"primaryKey;index"`
}

type CopyModel struct {
	ID         uint   `gorm:"primaryKey"`
	BookID     uint   `gorm:"not null;uniqueIndex:idx_copy_book_seq"`
	Sequence   int    `gorm:"not null;uniqueIndex:idx_copy_book_seq"`
	Barcode    string `gorm:"uniqueIndex;not null"`
	Location   string
	Status     string `gorm:"not null;index"`
	StatusNote string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type LoanModel struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"not null;index"`
	CopyID     uint      `gorm:"not null;index"`
	BookID     uint      `gorm:"not null;index"`
	LoanDate   time.Time `gorm:"not null;index"`
	DueDate    time.Time `gorm:"not null"`
	ReturnedAt *time.Time
	Status     string    `gorm:"not null;index"`
	Renewals   int       `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type ReservationModel struct {
	ID          uint           `gorm:"primaryKey"`
	UserID      uint           `gorm:"not null;index"`
	BookID      uint           `gorm:"not null;index"`
	RequestDate datatypes.Date `gorm:"not null"`
	Status      string         `gorm:"not null;index"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

type FineModel struct {
	ID          uint `gorm:"primaryKey"`
	LoanID      uint `gorm:"not null;uniqueIndex"`
	UserID      uint `gorm:"not null;index"`
	AmountCents int64
	DaysLate    int
	Paid        bool `gorm:"not null;default:false;index"`
	PaymentDate *datatypes.Date
	CreatedAt   time.Time `gorm:"not null"`
}

func allModels() []any {
	return []any{
		&UserModel{},
		&AuthorModel{},
		&PublisherModel{},
		&CategoryModel{},
		&BookModel{},
		&BookAuthorModel{},
		&CopyModel{},
		&LoanModel{},
		&ReservationModel{},
		&FineModel{},
	}
}
