package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newManager(t *testing.T, clock Clock) *LibraryManager {
	t.Helper()
	dir := t.TempDir()
	mgr, err := OpenLibraryManager(filepath.Join(dir, "lib.db"),
		[]Option{WithClock(clock), WithLogger(quietLogger())},
		WithVerifier(BcryptVerifier{Cost: bcrypt.MinCost}),
	)
	if err != nil {
		t.Fatalf("mgr: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func mustRegister(t *testing.T, mgr *LibraryManager, name string, role Role) Identity {
	t.Helper()
	s, err := mgr.Register(context.Background(), name, "pw", role)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return s.Identity()
}

func TestRegisterAndLogin(t *testing.T) {
	mgr := newManager(t, newFakeClock(epoch))
	ctx := context.Background()

	s, err := mgr.Register(ctx, "alice", "pw", RoleLender)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if s.Token == "" || s.Role != RoleLender {
		t.Fatalf("unexpected session %+v", s)
	}
	if !s.ExpiresAt.Equal(epoch.Add(DefaultSessionTTL)) {
		t.Fatalf("want expiry %v, got %v", epoch.Add(DefaultSessionTTL), s.ExpiresAt)
	}

	if _, err := mgr.Register(ctx, "alice", "other", RoleAdmin); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username: want conflict, got %v", err)
	}
	if _, err := mgr.Register(ctx, "", "pw", RoleLender); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty username: want validation, got %v", err)
	}
	if _, err := mgr.Register(ctx, "bob", "pw", Role("librarian")); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown role: want validation, got %v", err)
	}

	login, err := mgr.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Token == s.Token {
		t.Fatalf("each login should mint a fresh token")
	}
	if _, err := mgr.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: want unauthorized, got %v", err)
	}
	if _, err := mgr.Login(ctx, "nobody", "pw"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: want unauthorized, got %v", err)
	}

	if err := mgr.Logout(ctx, login.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := mgr.Authorize(ctx, login.Token, AnyAuthenticated); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("logged out token: want unauthorized, got %v", err)
	}
}

type brokenVerifier struct{ BcryptVerifier }

func (brokenVerifier) Verify(string, string) (bool, error) {
	return false, errors.New("malformed digest")
}

func TestLoginVerifierFailureIsNotMismatch(t *testing.T) {
	mgr := newManager(t, newFakeClock(epoch))
	ctx := context.Background()
	mustRegister(t, mgr, "alice", RoleLender)

	mgr.verifier = brokenVerifier{}
	_, err := mgr.Login(ctx, "alice", "pw")
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("verifier failure must surface as an internal error, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	mgr := newManager(t, newFakeClock(epoch))
	ctx := context.Background()
	admin, err := mgr.Register(ctx, "root", "pw", RoleAdmin)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	lender, err := mgr.Register(ctx, "alice", "pw", RoleLender)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cases := []struct {
		name  string
		token string
		req   Requirement
		ok    bool
	}{
		{"anonymous public", "", Public, true},
		{"anonymous any", "", AnyAuthenticated, false},
		{"bogus token", "deadbeef", AdminOnly, false},
		{"admin any", admin.Token, AnyAuthenticated, true},
		{"admin on admin", admin.Token, AdminOnly, true},
		{"admin on lender", admin.Token, LenderOnly, false},
		{"lender on lender", lender.Token, LenderOnly, true},
		{"lender on admin", lender.Token, AdminOnly, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.Authorize(ctx, tc.token, tc.req)
			if tc.ok && err != nil {
				t.Fatalf("want allowed, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("want unauthorized, got %v", err)
			}
		})
	}

	id, err := mgr.Authorize(ctx, lender.Token, LenderOnly)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if id.Username != "alice" || id.Role != RoleLender {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock(epoch)
	mgr := newManager(t, clock)
	ctx := context.Background()

	s, err := mgr.Register(ctx, "alice", "pw", RoleLender)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	clock.Advance(DefaultSessionTTL - time.Minute)
	if _, err := mgr.Authorize(ctx, s.Token, LenderOnly); err != nil {
		t.Fatalf("session should still be valid: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := mgr.Authorize(ctx, s.Token, LenderOnly); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired session: want unauthorized, got %v", err)
	}
}

// Scenario A: the last copy goes to the first lender only.
func TestScenarioLastCopy(t *testing.T) {
	mgr := newManager(t, newFakeClock(epoch))
	ctx := context.Background()
	alice := mustRegister(t, mgr, "alice", RoleLender)
	bob := mustRegister(t, mgr, "bob", RoleLender)
	mustRegister(t, mgr, "root", RoleAdmin)

	bookID, _, err := mgr.AddBook(ctx, BookInput{Title: "X", Author: "Anon", ISBN: "X", Copies: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := mgr.Checkout(ctx, alice, bookID); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	avail, err := mgr.Database().AvailableCopies(ctx, bookID)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if avail != 0 {
		t.Fatalf("want 0 available, got %d", avail)
	}
	if _, err := mgr.Checkout(ctx, bob, bookID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second checkout: want conflict, got %v", err)
	}
}

// Scenario B: a loan goes overdue, then returns restore the copy.
func TestScenarioOverdueThenReturn(t *testing.T) {
	clock := newFakeClock(epoch)
	mgr := newManager(t, clock)
	ctx := context.Background()
	alice := mustRegister(t, mgr, "alice", RoleLender)

	bookID, _, err := mgr.AddBook(ctx, BookInput{Title: "X", Author: "Anon", ISBN: "X", Copies: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	loanID, err := mgr.Checkout(ctx, alice, bookID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	loan, err := mgr.Database().GetLoan(ctx, loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if want := Today(clock).AddDate(0, 0, 14); !loan.DueDate.Equal(want) {
		t.Fatalf("want due %v, got %v", want, loan.DueDate)
	}

	clock.Advance(15 * 24 * time.Hour)
	status, err := mgr.LoanStatus(ctx, loanID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != LoanOverdue {
		t.Fatalf("want overdue, got %s", status)
	}

	if err := mgr.Return(ctx, alice, loanID); err != nil {
		t.Fatalf("return: %v", err)
	}
	if status, _ = mgr.LoanStatus(ctx, loanID); status != LoanReturned {
		t.Fatalf("want returned, got %s", status)
	}
	b, err := mgr.GetBook(ctx, bookID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if b.AvailableCopies != 1 {
		t.Fatalf("want 1 available, got %d", b.AvailableCopies)
	}
}

// Scenario C: shrinking a title below its lent-out copies is rejected untouched.
func TestScenarioShrinkRejected(t *testing.T) {
	mgr := newManager(t, newFakeClock(epoch))
	ctx := context.Background()
	alice := mustRegister(t, mgr, "alice", RoleLender)
	bob := mustRegister(t, mgr, "bob", RoleLender)

	in := BookInput{Title: "X", Author: "Anon", ISBN: "X", Copies: 2}
	bookID, _, err := mgr.AddBook(ctx, in)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, who := range []Identity{alice, bob} {
		if _, err := mgr.Checkout(ctx, who, bookID); err != nil {
			t.Fatalf("checkout: %v", err)
		}
	}

	in.Title = "Changed"
	in.Copies = 1
	if err := mgr.UpdateBook(ctx, bookID, in); !errors.Is(err, ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	b, err := mgr.GetBook(ctx, bookID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Title != "X" || b.TotalCopies != 2 || b.AvailableCopies != 0 {
		t.Fatalf("row changed: %+v", b)
	}
}

func TestAdminReturnsAnyLoan(t *testing.T) {
	mgr := newManager(t, newFakeClock(epoch))
	ctx := context.Background()
	alice := mustRegister(t, mgr, "alice", RoleLender)
	bob := mustRegister(t, mgr, "bob", RoleLender)
	admin := mustRegister(t, mgr, "root", RoleAdmin)

	bookID, _, err := mgr.AddBook(ctx, BookInput{Title: "X", Author: "Anon", ISBN: "X", Copies: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	loanID, err := mgr.Checkout(ctx, alice, bookID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := mgr.Return(ctx, bob, loanID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lender returning another's loan: want not found, got %v", err)
	}
	if err := mgr.Return(ctx, admin, loanID); err != nil {
		t.Fatalf("admin return: %v", err)
	}
}

func TestMaintain(t *testing.T) {
	clock := newFakeClock(epoch)
	mgr := newManager(t, clock)
	ctx := context.Background()
	mustRegister(t, mgr, "alice", RoleLender)
	bookID, _, err := mgr.AddBook(ctx, BookInput{Title: "X", Author: "Anon", ISBN: "X", Copies: 2})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := mgr.Database().db.Exec(`UPDATE books SET available_copies = 1 WHERE id=?`, bookID); err != nil {
		t.Fatalf("inject drift: %v", err)
	}

	clock.Advance(DefaultSessionTTL + time.Hour)
	corrected, purged, err := mgr.Maintain(ctx)
	if err != nil {
		t.Fatalf("maintain: %v", err)
	}
	if corrected != 1 || purged != 1 {
		t.Fatalf("want 1 corrected and 1 purged, got %d and %d", corrected, purged)
	}
}
