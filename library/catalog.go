package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

const (
	tableBooks       = "books"
	colID            = "id"
	colAvailable     = "available_copies"
	dialectSQLite    = "sqlite3"
	substringLiteral = "instr(lower(?), ?) > 0"
)

var (
	sqliteDialect = goqu.Dialect(dialectSQLite)

	bookColumns = []any{
		"id", "title", "author", "isbn", "year_of_publication", "genre", "total_copies", "available_copies",
	}

	// Columns matched by catalog search.
	searchColumns = []string{"title", "author", "isbn", "genre"}
)

// BookFilter narrows ListBooks. Query is a case-insensitive substring matched
// against title, author, isbn and genre.
type BookFilter struct {
	AvailableOnly bool
	Query         string
}

func (in *BookInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	if in.Genre != nil {
		g := strings.TrimSpace(*in.Genre)
		if g == "" {
			in.Genre = nil
		} else {
			in.Genre = &g
		}
	}
}

func (in BookInput) validateDescriptive() error {
	switch {
	case in.Title == "":
		return validationf("title must not be empty")
	case in.Author == "":
		return validationf("author must not be empty")
	case in.ISBN == "":
		return validationf("isbn must not be empty")
	}
	return nil
}

// AddOrIncrementBook stocks copies of a title. An existing ISBN is re-stocked:
// both total and available copies grow by in.Copies. Otherwise a new book is
// inserted with every copy available.
func (d *Database) AddOrIncrementBook(ctx context.Context, in BookInput) (id int64, created bool, err error) {
	in.normalize()
	if err := in.validateDescriptive(); err != nil {
		return 0, false, err
	}
	if in.Copies <= 0 {
		return 0, false, validationf("copies must be positive, got %d", in.Copies)
	}

	err = d.inTx(ctx, "add book", func(tx *sqlx.Tx) error {
		created = false
		err := tx.GetContext(ctx, &id, `SELECT id FROM books WHERE isbn=?`, in.ISBN)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
                UPDATE books
                SET total_copies = total_copies + ?, available_copies = available_copies + ?
                WHERE id=?`, in.Copies, in.Copies, id)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		res, err := tx.ExecContext(ctx, `
            INSERT INTO books(title,author,isbn,year_of_publication,genre,total_copies,available_copies)
            VALUES(?,?,?,?,?,?,?)`,
			in.Title, in.Author, in.ISBN, in.Year, in.Genre, in.Copies, in.Copies)
		if err != nil {
			return err
		}
		created = true
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// UpdateBook rewrites the descriptive fields and sets the total to in.Copies.
// The total cannot drop below the number of copies currently lent out; available
// copies become the new total minus that number.
func (d *Database) UpdateBook(ctx context.Context, bookID int64, in BookInput) error {
	in.normalize()
	if err := in.validateDescriptive(); err != nil {
		return err
	}
	if in.Copies < 0 {
		return validationf("total copies must not be negative, got %d", in.Copies)
	}

	return d.inTx(ctx, "update book", func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID); err != nil {
			return err
		}
		if !exists {
			return notFoundf("book %d", bookID)
		}

		checkedOut, err := activeLoanCount(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if in.Copies < checkedOut {
			return conflictf("cannot reduce total copies to %d: %d currently checked out", in.Copies, checkedOut)
		}

		_, err = tx.ExecContext(ctx, `
            UPDATE books
            SET title=?, author=?, isbn=?, year_of_publication=?, genre=?,
                total_copies=?, available_copies=?
            WHERE id=?`,
			in.Title, in.Author, in.ISBN, in.Year, in.Genre, in.Copies, in.Copies-checkedOut, bookID)
		if isUniqueViolation(err) {
			return conflictf("isbn %q belongs to another book", in.ISBN)
		}
		return err
	})
}

// DeleteBook removes a book and its loan history. A book with an active loan
// cannot be deleted.
func (d *Database) DeleteBook(ctx context.Context, bookID int64) error {
	return d.inTx(ctx, "delete book", func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID); err != nil {
			return err
		}
		if !exists {
			return notFoundf("book %d", bookID)
		}

		active, err := activeLoanCount(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if active > 0 {
			return conflictf("cannot delete book %d: %d active loan(s) exist", bookID, active)
		}

		// History is not retained past the book itself.
		if _, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE book_id=?`, bookID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM books WHERE id=?`, bookID)
		return err
	})
}

// GetBook fetches a single book.
func (d *Database) GetBook(ctx context.Context, bookID int64) (*Book, error) {
	if err := d.syncIfEnabled(ctx); err != nil {
		return nil, err
	}
	var b Book
	err := d.db.GetContext(ctx, &b, `
        SELECT id,title,author,isbn,year_of_publication,genre,total_copies,available_copies
        FROM books WHERE id=?`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("book %d", bookID)
	}
	if err != nil {
		return nil, storeErr("get book", err)
	}
	return &b, nil
}

// AvailableCopies returns how many copies of the book can be checked out now.
func (d *Database) AvailableCopies(ctx context.Context, bookID int64) (int64, error) {
	b, err := d.GetBook(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return b.AvailableCopies, nil
}

// ListBooks returns books ordered by id, narrowed by f.
func (d *Database) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	if err := d.syncIfEnabled(ctx); err != nil {
		return nil, err
	}

	ds := sqliteDialect.From(tableBooks).Select(bookColumns...).Order(goqu.C(colID).Asc())
	if f.AvailableOnly {
		ds = ds.Where(goqu.C(colAvailable).Gt(0))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		needle := strings.ToLower(q)
		matches := make([]exp.Expression, 0, len(searchColumns))
		for _, col := range searchColumns {
			matches = append(matches, goqu.L(substringLiteral, goqu.C(col), needle))
		}
		ds = ds.Where(goqu.Or(matches...))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, storeErr("build book query", err)
	}

	books := []Book{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, storeErr("list books", err)
	}
	return books, nil
}

// SearchBooks matches q case-insensitively against title, author, isbn and genre.
// An empty query matches nothing.
func (d *Database) SearchBooks(ctx context.Context, q string) ([]Book, error) {
	if strings.TrimSpace(q) == "" {
		return []Book{}, nil
	}
	return d.ListBooks(ctx, BookFilter{Query: q})
}

func activeLoanCount(ctx context.Context, tx *sqlx.Tx, bookID int64) (int64, error) {
	var n int64
	err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM loans WHERE book_id=? AND return_date IS NULL`, bookID)
	return n, err
}
