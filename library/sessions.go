package library

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultSessionTTL is how long a login stays valid.
const DefaultSessionTTL = 24 * time.Hour

const sessionTokenBytes = 32

func newSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateSession persists a fresh token for (username, role) valid for ttl.
func (d *Database) CreateSession(ctx context.Context, username string, role Role, ttl time.Duration) (Session, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	token, err := newSessionToken()
	if err != nil {
		return Session{}, storeErr("create session", err)
	}
	s := Session{
		Token:     token,
		Username:  username,
		Role:      role,
		ExpiresAt: d.clock.Now().Add(ttl).Truncate(time.Second),
	}
	err = d.withRetry(ctx, "create session", func(ctx context.Context) error {
		_, err := d.db.ExecContext(ctx,
			`INSERT INTO sessions(token,username,role,expires_at) VALUES(?,?,?,?)`,
			s.Token, s.Username, string(s.Role), s.ExpiresAt.Unix())
		return storeErr("create session", err)
	})
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// ResolveSession looks up token. A missing token resolves to (_, false, nil).
// An expired one is deleted as a side effect and also resolves to false.
// The role returned is the one copied at creation; users are not re-read.
func (d *Database) ResolveSession(ctx context.Context, token string) (Identity, bool, error) {
	if token == "" {
		return Identity{}, false, nil
	}
	var row struct {
		Username  string `db:"username"`
		Role      string `db:"role"`
		ExpiresAt int64  `db:"expires_at"`
	}
	err := d.db.GetContext(ctx, &row, `SELECT username,role,expires_at FROM sessions WHERE token=?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, storeErr("resolve session", err)
	}

	if d.clock.Now().Unix() > row.ExpiresAt {
		// Lazy expiry; a failed delete is retried on the next lookup.
		if err := d.DestroySession(ctx, token); err != nil {
			d.logger.Warn("failed to delete expired session", "error", err)
		}
		return Identity{}, false, nil
	}
	return Identity{Username: row.Username, Role: Role(row.Role)}, true, nil
}

// DestroySession deletes token if present. Missing tokens are not an error.
func (d *Database) DestroySession(ctx context.Context, token string) error {
	return d.withRetry(ctx, "destroy session", func(ctx context.Context) error {
		_, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE token=?`, token)
		return storeErr("destroy session", err)
	})
}

// PurgeExpiredSessions removes every expired row at once and returns how many went.
func (d *Database) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	var n int64
	err := d.withRetry(ctx, "purge sessions", func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, d.clock.Now().Unix())
		if err != nil {
			return storeErr("purge sessions", err)
		}
		n, err = res.RowsAffected()
		return storeErr("purge sessions", err)
	})
	return n, err
}
