package library

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// SyncAvailability recomputes available_copies = total_copies - active loans for
// every drifted book and returns how many rows it corrected. Running it twice in a
// row corrects nothing the second time.
func (d *Database) SyncAvailability(ctx context.Context) (int64, error) {
	var corrected int64
	err := d.inTx(ctx, "sync availability", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE books
            SET available_copies = MAX(0, total_copies - (
                SELECT COUNT(*) FROM loans
                WHERE loans.book_id = books.id AND loans.return_date IS NULL))
            WHERE available_copies != MAX(0, total_copies - (
                SELECT COUNT(*) FROM loans
                WHERE loans.book_id = books.id AND loans.return_date IS NULL))`)
		if err != nil {
			return err
		}
		corrected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if corrected > 0 {
		d.logger.Warn("availability drift corrected", "books", corrected)
	}
	return corrected, nil
}

func (d *Database) syncIfEnabled(ctx context.Context) error {
	if !d.syncBeforeRead {
		return nil
	}
	_, err := d.SyncAvailability(ctx)
	return err
}

// Checkout lends one copy of bookID to username and returns the new loan id.
//
// The whole sequence runs in one immediate transaction, so concurrent checkouts of
// the same book serialize on the write lock. The decrement is additionally guarded
// by available_copies > 0 and the active-loan index rejects a second loan of the
// same book to the same user.
func (d *Database) Checkout(ctx context.Context, username string, bookID int64) (int64, error) {
	today := Today(d.clock)
	due := today.Add(d.loanPeriod)

	var loanID int64
	err := d.inTx(ctx, "checkout", func(tx *sqlx.Tx) error {
		var userID int64
		err := tx.GetContext(ctx, &userID, `SELECT id FROM users WHERE username=?`, username)
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("user %q", username)
		}
		if err != nil {
			return err
		}

		var available int64
		err = tx.GetContext(ctx, &available, `SELECT available_copies FROM books WHERE id=?`, bookID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("book %d", bookID)
		}
		if err != nil {
			return err
		}
		if available <= 0 {
			return conflictf("book %d is not available", bookID)
		}

		var held bool
		if err := tx.GetContext(ctx, &held, `
            SELECT EXISTS(SELECT 1 FROM loans WHERE user_id=? AND book_id=? AND return_date IS NULL)`,
			userID, bookID); err != nil {
			return err
		}
		if held {
			return conflictf("book %d already borrowed by %q", bookID, username)
		}

		res, err := tx.ExecContext(ctx, `
            INSERT INTO loans(user_id,book_id,checkout_date,due_date) VALUES(?,?,?,?)`,
			userID, bookID, formatDate(today), formatDate(due))
		if isUniqueViolation(err) {
			return conflictf("book %d already borrowed by %q", bookID, username)
		}
		if err != nil {
			return err
		}
		if loanID, err = res.LastInsertId(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
            UPDATE books SET available_copies = available_copies - 1
            WHERE id=? AND available_copies > 0`, bookID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return conflictf("book %d is not available", bookID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	d.logger.Info("book checked out", "loan_id", loanID, "book_id", bookID, "username", username,
		"due_date", formatDate(due))
	return loanID, nil
}

// Return closes loanID. Returning a loan that was already returned changes nothing.
func (d *Database) Return(ctx context.Context, loanID int64) error {
	return d.returnLoan(ctx, loanID, "")
}

// ReturnOwned closes loanID only if it belongs to username. Someone else's loan is
// reported as NotFound so loan ids of other users are not confirmed.
func (d *Database) ReturnOwned(ctx context.Context, username string, loanID int64) error {
	if username == "" {
		return validationf("username must not be empty")
	}
	return d.returnLoan(ctx, loanID, username)
}

func (d *Database) returnLoan(ctx context.Context, loanID int64, owner string) error {
	today := formatDate(Today(d.clock))
	var (
		bookID   int64
		returned bool
	)

	err := d.inTx(ctx, "return", func(tx *sqlx.Tx) error {
		returned = false
		query := `SELECT loans.book_id FROM loans WHERE loans.id=?`
		args := []any{loanID}
		if owner != "" {
			query = `SELECT loans.book_id FROM loans JOIN users ON users.id = loans.user_id
                WHERE loans.id=? AND users.username=?`
			args = append(args, owner)
		}
		err := tx.GetContext(ctx, &bookID, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("loan %d", loanID)
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE loans SET return_date=? WHERE id=? AND return_date IS NULL`, today, loanID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		returned = true

		res, err = tx.ExecContext(ctx, `
            UPDATE books SET available_copies = available_copies + 1
            WHERE id=? AND available_copies < total_copies`, bookID)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n == 0 {
			// Counter was already at total; leave it for SyncAvailability.
			d.logger.Warn("availability already at total on return", "loan_id", loanID, "book_id", bookID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if returned {
		d.logger.Info("book returned", "loan_id", loanID, "book_id", bookID)
	} else {
		d.logger.Info("loan already returned, nothing to do", "loan_id", loanID)
	}
	return nil
}

// GetLoan fetches a single loan.
func (d *Database) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	var row loanRow
	err := d.db.GetContext(ctx, &row, `
        SELECT id,user_id,book_id,checkout_date,due_date,return_date FROM loans WHERE id=?`, loanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("loan %d", loanID)
	}
	if err != nil {
		return nil, storeErr("get loan", err)
	}
	l, err := row.toLoan()
	if err != nil {
		return nil, storeErr("get loan", err)
	}
	return &l, nil
}

// LoanStatus derives the status of loanID as of today.
func (d *Database) LoanStatus(ctx context.Context, loanID int64) (LoanStatus, error) {
	l, err := d.GetLoan(ctx, loanID)
	if err != nil {
		return "", err
	}
	return LoanStatusOf(l.DueDate, l.ReturnDate, Today(d.clock)), nil
}
