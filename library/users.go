package library

import (
	"context"
	"database/sql"
	"errors"
)

// CreateUser inserts a new account. A taken username is a Conflict.
func (d *Database) CreateUser(ctx context.Context, username, digest string, role Role) (int64, error) {
	var id int64
	err := d.withRetry(ctx, "create user", func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx,
			`INSERT INTO users(username,password_digest,role) VALUES(?,?,?)`, username, digest, string(role))
		if err != nil {
			if isUniqueViolation(err) {
				return conflictf("user %q already exists", username)
			}
			return storeErr("create user", err)
		}
		id, err = res.LastInsertId()
		return storeErr("create user", err)
	})
	return id, err
}

// GetUserByUsername fetches a single user.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u,
		`SELECT id,username,password_digest,role FROM users WHERE username=?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("user %q", username)
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by id.
func (d *Database) ListUsers(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := d.db.SelectContext(ctx, &users, `SELECT id,username,password_digest,role FROM users ORDER BY id`); err != nil {
		return nil, storeErr("list users", err)
	}
	return users, nil
}
