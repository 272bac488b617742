package library

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
)

// BookView is a book with its admin-facing availability line.
type BookView struct {
	Book
	Status string `json:"status"`
}

// LoanView is one row of the admin loan report.
type LoanView struct {
	LoanID       int64      `json:"loanid"`
	Username     string     `json:"username"`
	Title        string     `json:"title"`
	CheckoutDate string     `json:"checkout_date"`
	DueDate      string     `json:"due_date"`
	ReturnDate   *string    `json:"return_date,omitempty"`
	Status       LoanStatus `json:"status"`
}

// OverdueLoan is an active loan past its due date.
type OverdueLoan struct {
	LoanID      int64  `json:"loanid"`
	Username    string `json:"username"`
	Title       string `json:"title"`
	DueDate     string `json:"due_date"`
	DaysOverdue int64  `json:"days_overdue"`
}

type dueFilter int

const (
	anyDue dueFilter = iota
	pastDue
	notPastDue
)

type loanQuery struct {
	username   string
	activeOnly bool
	due        dueFilter
}

type loanReportRow struct {
	LoanID       int64          `db:"loanid"`
	Username     string         `db:"username"`
	Title        string         `db:"title"`
	CheckoutDate string         `db:"checkout_date"`
	DueDate      string         `db:"due_date"`
	ReturnDate   sql.NullString `db:"return_date"`
}

func (d *Database) loanReport(ctx context.Context, q loanQuery, today time.Time) ([]loanReportRow, error) {
	ds := sqliteDialect.
		From(goqu.T("loans").As("l")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Select(
			goqu.I("l.id").As("loanid"),
			goqu.I("u.username").As("username"),
			goqu.I("b.title").As("title"),
			goqu.I("l.checkout_date").As("checkout_date"),
			goqu.I("l.due_date").As("due_date"),
			goqu.I("l.return_date").As("return_date"),
		).
		Order(goqu.I("l.id").Asc())

	if q.username != "" {
		ds = ds.Where(goqu.I("u.username").Eq(q.username))
	}
	if q.activeOnly {
		ds = ds.Where(goqu.I("l.return_date").IsNull())
	}
	// Dates are YYYY-MM-DD text, so string order is calendar order.
	switch q.due {
	case pastDue:
		ds = ds.Where(goqu.I("l.due_date").Lt(formatDate(today)))
	case notPastDue:
		ds = ds.Where(goqu.I("l.due_date").Gte(formatDate(today)))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, storeErr("build loan report", err)
	}
	rows := []loanReportRow{}
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeErr("loan report", err)
	}
	return rows, nil
}

func toOverdue(rows []loanReportRow, today time.Time) ([]OverdueLoan, error) {
	out := make([]OverdueLoan, 0, len(rows))
	for _, r := range rows {
		due, err := parseDate(r.DueDate)
		if err != nil {
			return nil, storeErr("overdue report", err)
		}
		out = append(out, OverdueLoan{
			LoanID:      r.LoanID,
			Username:    r.Username,
			Title:       r.Title,
			DueDate:     r.DueDate,
			DaysOverdue: daysBetween(due, today),
		})
	}
	return out, nil
}

// AdminBooks lists every book with its status line.
func (d *Database) AdminBooks(ctx context.Context) ([]BookView, error) {
	books, err := d.ListBooks(ctx, BookFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]BookView, 0, len(books))
	for _, b := range books {
		out = append(out, BookView{Book: b, Status: b.Status()})
	}
	return out, nil
}

// AdminLoans lists every loan, active or not, with its derived status.
func (d *Database) AdminLoans(ctx context.Context) ([]LoanView, error) {
	today := Today(d.clock)
	rows, err := d.loanReport(ctx, loanQuery{}, today)
	if err != nil {
		return nil, err
	}
	out := make([]LoanView, 0, len(rows))
	for _, r := range rows {
		due, err := parseDate(r.DueDate)
		if err != nil {
			return nil, storeErr("loan report", err)
		}
		v := LoanView{
			LoanID:       r.LoanID,
			Username:     r.Username,
			Title:        r.Title,
			CheckoutDate: r.CheckoutDate,
			DueDate:      r.DueDate,
		}
		var returned *time.Time
		if r.ReturnDate.Valid {
			s := r.ReturnDate.String
			v.ReturnDate = &s
			t, err := parseDate(s)
			if err != nil {
				return nil, storeErr("loan report", err)
			}
			returned = &t
		}
		v.Status = LoanStatusOf(due, returned, today)
		out = append(out, v)
	}
	return out, nil
}

// OverdueLoans lists every active loan whose due date is before today.
func (d *Database) OverdueLoans(ctx context.Context) ([]OverdueLoan, error) {
	today := Today(d.clock)
	rows, err := d.loanReport(ctx, loanQuery{activeOnly: true, due: pastDue}, today)
	if err != nil {
		return nil, err
	}
	return toOverdue(rows, today)
}

// LenderBooks lists the books a lender can check out right now.
func (d *Database) LenderBooks(ctx context.Context) ([]Book, error) {
	return d.ListBooks(ctx, BookFilter{AvailableOnly: true})
}

// LenderSearch narrows LenderBooks by q. An empty q lists every available book.
func (d *Database) LenderSearch(ctx context.Context, q string) ([]Book, error) {
	return d.ListBooks(ctx, BookFilter{AvailableOnly: true, Query: q})
}

// LenderLoans lists username's active loans that are not yet overdue.
func (d *Database) LenderLoans(ctx context.Context, username string) ([]LoanView, error) {
	today := Today(d.clock)
	rows, err := d.loanReport(ctx, loanQuery{username: username, activeOnly: true, due: notPastDue}, today)
	if err != nil {
		return nil, err
	}
	out := make([]LoanView, 0, len(rows))
	for _, r := range rows {
		out = append(out, LoanView{
			LoanID:       r.LoanID,
			Username:     r.Username,
			Title:        r.Title,
			CheckoutDate: r.CheckoutDate,
			DueDate:      r.DueDate,
			Status:       LoanBorrowed,
		})
	}
	return out, nil
}

// LenderOverdue lists username's overdue loans.
func (d *Database) LenderOverdue(ctx context.Context, username string) ([]OverdueLoan, error) {
	today := Today(d.clock)
	rows, err := d.loanReport(ctx, loanQuery{username: username, activeOnly: true, due: pastDue}, today)
	if err != nil {
		return nil, err
	}
	return toOverdue(rows, today)
}
