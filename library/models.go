package library

import (
	"database/sql"
	"fmt"
	"time"
)

// Role is fixed at registration and copied onto every session.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleLender Role = "lender"
)

// ParseRole accepts the two known roles and nothing else.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleLender:
		return Role(s), nil
	}
	return "", validationf("unknown role %q", s)
}

// User is a registered account. Usernames are unique and case-sensitive.
type User struct {
	ID             int64  `db:"id" json:"id"`
	Username       string `db:"username" json:"username"`
	PasswordDigest string `db:"password_digest" json:"-"` // Don't serialize the digest
	Role           Role   `db:"role" json:"role"`
}

// Book is one catalog title with per-title copy counts.
// Invariant: 0 <= AvailableCopies <= TotalCopies.
type Book struct {
	ID              int64   `db:"id" json:"bookid"`
	Title           string  `db:"title" json:"title"`
	Author          string  `db:"author" json:"author"`
	ISBN            string  `db:"isbn" json:"isbn"`
	Year            *int64  `db:"year_of_publication" json:"year_of_pub,omitempty"`
	Genre           *string `db:"genre" json:"genre,omitempty"`
	TotalCopies     int64   `db:"total_copies" json:"total_copies"`
	AvailableCopies int64   `db:"available_copies" json:"available_copies"`
}

// CheckedOut is the number of copies currently lent out.
func (b Book) CheckedOut() int64 { return b.TotalCopies - b.AvailableCopies }

// Status renders the admin-facing availability line.
func (b Book) Status() string {
	return fmt.Sprintf("%d available, %d checked out", b.AvailableCopies, b.CheckedOut())
}

// BookInput carries the admin-supplied fields for add and update.
// For add, Copies is the number of copies to stock; for update it is the new total.
type BookInput struct {
	Title  string  `json:"title" form:"title"`
	Author string  `json:"author" form:"author"`
	ISBN   string  `json:"isbn" form:"isbn"`
	Year   *int64  `json:"year_of_pub" form:"year_of_pub"`
	Genre  *string `json:"genre" form:"genre"`
	Copies int64   `json:"copies" form:"copies"`
}

// LoanStatus is derived, never stored.
type LoanStatus string

const (
	LoanBorrowed LoanStatus = "borrowed"
	LoanOverdue  LoanStatus = "overdue"
	LoanReturned LoanStatus = "returned"
)

// LoanStatusOf derives the status of a loan on the given calendar day.
func LoanStatusOf(due time.Time, returned *time.Time, today time.Time) LoanStatus {
	if returned != nil {
		return LoanReturned
	}
	if dateOf(due).Before(dateOf(today)) {
		return LoanOverdue
	}
	return LoanBorrowed
}

// Loan records one checkout. ReturnDate is nil while the loan is active.
type Loan struct {
	ID           int64      `json:"loanid"`
	UserID       int64      `json:"user_id"`
	BookID       int64      `json:"book_id"`
	CheckoutDate time.Time  `json:"checkout_date"`
	DueDate      time.Time  `json:"due_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty"`
}

// Active reports whether the loan has not been returned yet.
func (l Loan) Active() bool { return l.ReturnDate == nil }

// loanRow is the storage shape of a loan; dates are kept as YYYY-MM-DD text.
type loanRow struct {
	ID           int64          `db:"id"`
	UserID       int64          `db:"user_id"`
	BookID       int64          `db:"book_id"`
	CheckoutDate string         `db:"checkout_date"`
	DueDate      string         `db:"due_date"`
	ReturnDate   sql.NullString `db:"return_date"`
}

func (r loanRow) toLoan() (Loan, error) {
	checkout, err := parseDate(r.CheckoutDate)
	if err != nil {
		return Loan{}, fmt.Errorf("loan %d checkout_date: %w", r.ID, err)
	}
	due, err := parseDate(r.DueDate)
	if err != nil {
		return Loan{}, fmt.Errorf("loan %d due_date: %w", r.ID, err)
	}
	l := Loan{ID: r.ID, UserID: r.UserID, BookID: r.BookID, CheckoutDate: checkout, DueDate: due}
	if r.ReturnDate.Valid {
		ret, err := parseDate(r.ReturnDate.String)
		if err != nil {
			return Loan{}, fmt.Errorf("loan %d return_date: %w", r.ID, err)
		}
		l.ReturnDate = &ret
	}
	return l, nil
}

// Identity is what a resolved session vouches for.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Session binds an opaque token to an identity until ExpiresAt.
type Session struct {
	Token     string    `json:"-"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity returns the denormalized identity stored on the session.
func (s Session) Identity() Identity { return Identity{Username: s.Username, Role: s.Role} }
