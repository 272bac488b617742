package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LibraryManager is a thin façade over the Database, keeping transport code simple.
// Identity-bound operations take an Identity that the caller already resolved
// through Authorize.
type LibraryManager struct {
	db         *Database
	verifier   CredentialVerifier
	gate       *Gate
	sessionTTL time.Duration

	dummyOnce   sync.Once
	dummyDigest string
}

// ManagerOption configures a LibraryManager.
type ManagerOption func(*LibraryManager)

// WithVerifier replaces the bcrypt verifier.
func WithVerifier(v CredentialVerifier) ManagerOption {
	return func(lm *LibraryManager) { lm.verifier = v }
}

// WithSessionTTL sets how long a login stays valid.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(lm *LibraryManager) {
		if ttl > 0 {
			lm.sessionTTL = ttl
		}
	}
}

// NewLibraryManager wraps an open Database.
func NewLibraryManager(db *Database, opts ...ManagerOption) *LibraryManager {
	lm := &LibraryManager{
		db:         db,
		verifier:   BcryptVerifier{},
		gate:       NewGate(db),
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// OpenLibraryManager opens (or creates) the SQLite database at dbPath.
func OpenLibraryManager(dbPath string, dbOpts []Option, opts ...ManagerOption) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath, dbOpts...)
	if err != nil {
		return nil, err
	}
	return NewLibraryManager(db, opts...), nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Database exposes the store for maintenance commands.
func (lm *LibraryManager) Database() *Database { return lm.db }

// ------------------ Accounts & sessions ------------------

// CreateUser registers an account without opening a session.
func (lm *LibraryManager) CreateUser(ctx context.Context, username, password string, role Role) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, validationf("username must not be empty")
	}
	if password == "" {
		return nil, validationf("password must not be empty")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	digest, err := lm.verifier.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id, err := lm.db.CreateUser(ctx, username, digest, role)
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Username: username, PasswordDigest: digest, Role: role}, nil
}

// Register creates the account and logs it in.
func (lm *LibraryManager) Register(ctx context.Context, username, password string, role Role) (Session, error) {
	u, err := lm.CreateUser(ctx, username, password, role)
	if err != nil {
		return Session{}, err
	}
	return lm.db.CreateSession(ctx, u.Username, u.Role, lm.sessionTTL)
}

// Login checks the password and opens a session. Unknown users and wrong passwords
// both return ErrUnauthorized.
func (lm *LibraryManager) Login(ctx context.Context, username, password string) (Session, error) {
	u, err := lm.db.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Same work as a real comparison so timing does not reveal the username.
		_, _ = lm.verifier.Verify(password, lm.dummy())
		return Session{}, ErrUnauthorized
	}
	if err != nil {
		return Session{}, err
	}

	ok, err := lm.verifier.Verify(password, u.PasswordDigest)
	if err != nil {
		return Session{}, fmt.Errorf("verify password for %q: %w", username, err)
	}
	if !ok {
		return Session{}, ErrUnauthorized
	}
	return lm.db.CreateSession(ctx, u.Username, u.Role, lm.sessionTTL)
}

func (lm *LibraryManager) dummy() string {
	lm.dummyOnce.Do(func() {
		lm.dummyDigest, _ = lm.verifier.Hash("not-a-real-password")
	})
	return lm.dummyDigest
}

// Logout destroys the session; unknown tokens are fine.
func (lm *LibraryManager) Logout(ctx context.Context, token string) error {
	return lm.db.DestroySession(ctx, token)
}

// Authorize resolves token and checks it against req.
func (lm *LibraryManager) Authorize(ctx context.Context, token string, req Requirement) (Identity, error) {
	return lm.gate.Authorize(ctx, token, req)
}

func (lm *LibraryManager) ListUsers(ctx context.Context) ([]User, error) { return lm.db.ListUsers(ctx) }

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, in BookInput) (int64, bool, error) {
	return lm.db.AddOrIncrementBook(ctx, in)
}

func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, in BookInput) error {
	return lm.db.UpdateBook(ctx, id, in)
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	return lm.db.DeleteBook(ctx, id)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, q string) ([]Book, error) {
	return lm.db.SearchBooks(ctx, q)
}

// ------------------ Circulation ------------------

// Checkout lends bookID to the caller.
func (lm *LibraryManager) Checkout(ctx context.Context, who Identity, bookID int64) (int64, error) {
	return lm.db.Checkout(ctx, who.Username, bookID)
}

// Return closes a loan. Admins may close any loan; lenders only their own.
func (lm *LibraryManager) Return(ctx context.Context, who Identity, loanID int64) error {
	if who.Role == RoleAdmin {
		return lm.db.Return(ctx, loanID)
	}
	return lm.db.ReturnOwned(ctx, who.Username, loanID)
}

func (lm *LibraryManager) LoanStatus(ctx context.Context, loanID int64) (LoanStatus, error) {
	return lm.db.LoanStatus(ctx, loanID)
}

// ------------------ Reports ------------------

func (lm *LibraryManager) AdminBooks(ctx context.Context) ([]BookView, error) {
	return lm.db.AdminBooks(ctx)
}

func (lm *LibraryManager) AdminLoans(ctx context.Context) ([]LoanView, error) {
	return lm.db.AdminLoans(ctx)
}

func (lm *LibraryManager) OverdueLoans(ctx context.Context) ([]OverdueLoan, error) {
	return lm.db.OverdueLoans(ctx)
}

func (lm *LibraryManager) LenderBooks(ctx context.Context) ([]Book, error) {
	return lm.db.LenderBooks(ctx)
}

func (lm *LibraryManager) LenderSearch(ctx context.Context, q string) ([]Book, error) {
	return lm.db.LenderSearch(ctx, q)
}

func (lm *LibraryManager) LenderLoans(ctx context.Context, who Identity) ([]LoanView, error) {
	return lm.db.LenderLoans(ctx, who.Username)
}

func (lm *LibraryManager) LenderOverdue(ctx context.Context, who Identity) ([]OverdueLoan, error) {
	return lm.db.LenderOverdue(ctx, who.Username)
}

// ------------------ Maintenance ------------------

// Maintain repairs availability drift and drops expired sessions.
func (lm *LibraryManager) Maintain(ctx context.Context) (corrected, purged int64, err error) {
	if corrected, err = lm.db.SyncAvailability(ctx); err != nil {
		return 0, 0, err
	}
	if purged, err = lm.db.PurgeExpiredSessions(ctx); err != nil {
		return corrected, 0, err
	}
	return corrected, purged, nil
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b Book) string {
	return fmt.Sprintf("%-5d %-30s %-25s %-15s %s", b.ID, b.Title, b.Author, b.ISBN, b.Status())
}
