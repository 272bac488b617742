package library

import (
	"context"
	"fmt"
)

// Requirement is what an operation demands of its caller's session.
type Requirement int

const (
	Public Requirement = iota
	AnyAuthenticated
	AdminOnly
	LenderOnly
)

func (r Requirement) String() string {
	switch r {
	case Public:
		return "public"
	case AnyAuthenticated:
		return "authenticated"
	case AdminOnly:
		return "admin"
	case LenderOnly:
		return "lender"
	}
	return fmt.Sprintf("requirement(%d)", int(r))
}

func (r Requirement) allows(role Role) bool {
	switch r {
	case Public, AnyAuthenticated:
		return true
	case AdminOnly:
		return role == RoleAdmin
	case LenderOnly:
		return role == RoleLender
	}
	return false
}

// SessionResolver is the part of the session store the gate needs.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (Identity, bool, error)
}

// Gate turns a session token into an authorization decision.
type Gate struct {
	sessions SessionResolver
}

func NewGate(sessions SessionResolver) *Gate {
	return &Gate{sessions: sessions}
}

// Authorize resolves token against req. A missing session and a role mismatch both
// return ErrUnauthorized with the same message. Public never fails and returns
// the zero Identity when the caller is anonymous.
func (g *Gate) Authorize(ctx context.Context, token string, req Requirement) (Identity, error) {
	id, ok, err := g.sessions.ResolveSession(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if req == Public {
		return id, nil
	}
	if !ok || !req.allows(id.Role) {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}
