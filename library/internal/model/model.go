package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindPrinted Kind = "Printed"
	KindDigital Kind = "Digital"
)

func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindPrinted, KindDigital} {
		if strings.EqualFold(strings.TrimSpace(s), string(k)) {
			return k, nil
		}
	}
	return "", errors.Wrapf(errs.ErrInvalidKind, "%q", s)
}

type Tier string

const (
	TierBasic   Tier = "Basic"
	TierPremium Tier = "Premium"
	TierVIP     Tier = "VIP"
)

var borrowLimits = map[Tier]int{
	TierBasic:   2,
	TierPremium: 5,
	TierVIP:     10,
}

func ParseTier(s string) (Tier, error) {
	for _, t := range []Tier{TierBasic, TierPremium, TierVIP} {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, nil
		}
	}
	return "", errors.Wrapf(errs.ErrInvalidTier, "%q", s)
}

// BorrowLimitFor returns how many books a member of tier may hold at once.
func BorrowLimitFor(tier Tier) (int, error) {
	limit, ok := borrowLimits[tier]
	if !ok {
		return 0, errors.Wrapf(errs.ErrInvalidTier, "%q", tier)
	}
	return limit, nil
}

type Book struct {
	ID              int64     `json:"id" db:"id"`
	ISBN            string    `json:"isbn" db:"isbn"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	Genre           string    `json:"genre" db:"genre"`
	Kind            Kind      `json:"kind" db:"kind"`
	TotalCopies     int       `json:"totalCopies" db:"total_copies"`
	AvailableCopies int       `json:"availableCopies" db:"available_copies"`
	BorrowCount     int       `json:"borrowCount" db:"borrow_count"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// Availability is a short human readable status of the book's copies.
func (b Book) Availability() string {
	switch {
	case b.Kind == KindDigital:
		return "Unlimited (Digital)"
	case b.AvailableCopies > 0:
		return fmt.Sprintf("%d/%d available", b.AvailableCopies, b.TotalCopies)
	default:
		return "All borrowed"
	}
}

type User struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Tier      Tier      `json:"tier" db:"tier"`
	Fines     float64   `json:"outstandingFines" db:"fines"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// BorrowLimit is zero for a user with an unknown tier.
func (u User) BorrowLimit() int {
	return borrowLimits[u.Tier]
}

type LoanStatus string

const (
	LoanOpen   LoanStatus = "Open"
	LoanClosed LoanStatus = "Closed"
)

type Loan struct {
	ID         int64      `json:"id" db:"id"`
	LoanUid    string     `json:"loanUid" db:"loan_uid"`
	BookID     int64      `json:"bookId" db:"book_id"`
	UserID     int64      `json:"userId" db:"user_id"`
	BorrowDate time.Time  `json:"borrowDate" db:"borrow_date"`
	DueDate    time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time `json:"returnDate,omitempty" db:"return_date"`
	Fine       float64    `json:"fine" db:"fine"`
}

func (l Loan) Status() LoanStatus {
	if l.ReturnDate == nil {
		return LoanOpen
	}
	return LoanClosed
}

type AddBookRequest struct {
	ISBN   string `json:"isbn" form:"isbn" validate:"max=32"`
	Title  string `json:"title" form:"title" validate:"required,max=256"`
	Author string `json:"author" form:"author" validate:"required,max=256"`
	Genre  string `json:"genre" form:"genre" validate:"max=64"`
	Kind   string `json:"kind" form:"kind" validate:"required"`
	Copies int    `json:"copies" form:"copies" validate:"gt=0"`
}

type RegisterUserRequest struct {
	Name string `json:"name" form:"name" validate:"required,max=128"`
	Tier string `json:"tier" form:"tier" validate:"required"`
}

type LoanRequest struct {
	UserID int64 `json:"userId" form:"userId" validate:"required"`
	BookID int64 `json:"bookId" form:"bookId" validate:"required"`
}

type PayFineRequest struct {
	Amount float64 `json:"amount" form:"amount" validate:"gt=0"`
}

type UserDetails struct {
	User        `json:",inline"`
	BorrowLimit int  `json:"borrowLimit"`
	LoanDays    int  `json:"loanDays"`
	OpenLoans   int  `json:"openLoans"`
	CanBorrow   bool `json:"canBorrow"`
}

type BorrowedBook struct {
	Loan          Loan   `json:"loan"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	DaysBorrowed  int    `json:"daysBorrowed"`
	DaysRemaining int    `json:"daysRemaining"`
}

func (b BorrowedBook) Overdue() bool {
	return b.DaysRemaining < 0
}

type ReturnReceipt struct {
	Loan        Loan    `json:"loan"`
	Title       string  `json:"title"`
	OverdueDays int     `json:"overdueDays"`
	Fine        float64 `json:"fine"`
}

type Statistics struct {
	TotalBooks       int     `json:"totalBooks" db:"total_books"`
	TotalUsers       int     `json:"totalUsers" db:"total_users"`
	OpenLoans        int     `json:"openLoans" db:"open_loans"`
	OutstandingFines float64 `json:"outstandingFines" db:"outstanding_fines"`
	MostBorrowed     []Book  `json:"mostBorrowed"`
}

type EventType string

const (
	EventBorrowed EventType = "BORROWED"
	EventReturned EventType = "RETURNED"
)

type LoanEvent struct {
	EventID   string    `json:"eventId"`
	Type      EventType `json:"type"`
	LoanUid   string    `json:"loanUid"`
	UserID    int64     `json:"userId"`
	BookID    int64     `json:"bookId"`
	Fine      float64   `json:"fine"`
	Timestamp time.Time `json:"timestamp"`
}
