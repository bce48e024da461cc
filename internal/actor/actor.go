// Package actor carries the caller identity supplied by the web layer.
// The core never authenticates; it only compares identities and checks
// whether a role may escalate.
package actor

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotPermitted is returned when an actor fails a transition guard.
var ErrNotPermitted = errors.New("actor not permitted")

type Role string

const (
	RoleAssignee Role = "assignee"
	RoleAuditor  Role = "auditor"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAssignee, RoleAuditor, RoleManager, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Actor is the opaque identity threaded into every core call.
type Actor struct {
	ID   string
	Role Role
}

// System is used for derived changes such as status synchronization.
var System = Actor{ID: "system", Role: RoleAdmin}

// CanEscalate reports whether the actor may decide audits and cancel work
// on behalf of others.
func (a Actor) CanEscalate() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

// Is reports whether the actor has the given identity. An empty id never
// matches.
func (a Actor) Is(id string) bool {
	return id != "" && a.ID == id
}

func Deny(a Actor, action string) error {
	return fmt.Errorf("%s cannot %s: %w", a.ID, action, ErrNotPermitted)
}

type ctxKey struct{}

func NewContext(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor stored by NewContext, or the zero actor,
// which passes no guard.
func FromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(ctxKey{}).(Actor)
	return a
}
