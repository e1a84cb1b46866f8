// Package access decides whether an actor may touch another user's connections.
package access

import (
	"errors"
	"fmt"

	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// RoleAdmin is the default administrator role name.
const RoleAdmin = "admin"

// ErrForbidden is returned when the actor lacks the required privilege.
var ErrForbidden = errors.New("forbidden")

// Gate evaluates ownership and admin checks against a configured admin role.
type Gate struct {
	adminRole string
}

// NewGate creates a Gate. An empty adminRole falls back to RoleAdmin.
func NewGate(adminRole string) Gate {
	if adminRole == "" {
		adminRole = RoleAdmin
	}
	return Gate{adminRole: adminRole}
}

// IsAdmin reports whether actor carries the admin role.
func (g Gate) IsAdmin(actor model.Actor) bool {
	return actor.Role == g.adminRole
}

// RequireOwnerOrAdmin allows the owner of the resource and admins.
func (g Gate) RequireOwnerOrAdmin(actor model.Actor, ownerUserID string) error {
	if actor.ID != "" && actor.ID == ownerUserID {
		return nil
	}
	if g.IsAdmin(actor) {
		return nil
	}
	return fmt.Errorf("%w: %s may not access connections of %s", ErrForbidden, actor.ID, ownerUserID)
}

// RequireAdmin allows admins only.
func (g Gate) RequireAdmin(actor model.Actor) error {
	if g.IsAdmin(actor) {
		return nil
	}
	return fmt.Errorf("%w: admin role required", ErrForbidden)
}
