package service

import (
	"context"
	"slices"
)

// IdentityRepository resolves a stable subject identifier to its role
// names. It lives outside this core; we only consume the boundary.
type IdentityRepository interface {
	ResolveRoles(ctx context.Context, subjectID string) ([]string, error)
}

// RoleExpander expands a role set through a static implication hierarchy,
// so a token minted for an admin also carries the roles an admin implies.
// Expansion happens once at issuance; validators just read the claim.
type RoleExpander struct {
	implies map[string][]string
}

// DefaultRoleHierarchy is the stock three-tier hierarchy.
func DefaultRoleHierarchy() map[string][]string {
	return map[string][]string{
		"admin":     {"moderator"},
		"moderator": {"user"},
	}
}

// NewRoleExpander builds an expander over an implication map. A nil map
// means no expansion, roles pass through as given.
func NewRoleExpander(implies map[string][]string) *RoleExpander {
	return &RoleExpander{implies: implies}
}

// Expand returns the transitive closure of roles under the hierarchy,
// deduplicated and sorted for stable claim encoding.
func (e *RoleExpander) Expand(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(roles))
	queue := slices.Clone(roles)

	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true

		if e != nil && e.implies != nil {
			queue = append(queue, e.implies[role]...)
		}
	}

	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	slices.Sort(out)
	return out
}
