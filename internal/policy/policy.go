// Package policy decides which roles may approve which request types. It is
// injected into the engine so alternate hierarchies can be substituted without
// touching engine logic.
package policy

import "govline/internal/domain"

// DefaultApproverRoles is the decision hierarchy shared by all current request
// types: national-level offices plus the super administrator.
var DefaultApproverRoles = []domain.Role{
	domain.RoleMinister,
	domain.RolePrimature,
	domain.RolePresidency,
	domain.RoleSuperAdmin,
}

type Policy struct {
	perType map[domain.RequestType][]domain.Role
}

// New returns the default policy: every request type is decidable by
// DefaultApproverRoles.
func New() *Policy {
	return &Policy{perType: map[domain.RequestType][]domain.Role{}}
}

// WithApprovers narrows (or widens) the approver set for one request type.
// SUPER_ADMIN remains an implicit approver regardless.
func (p *Policy) WithApprovers(t domain.RequestType, roles []domain.Role) *Policy {
	out := make([]domain.Role, 0, len(roles)+1)
	hasSuper := false
	for _, r := range roles {
		if r == domain.RoleSuperAdmin {
			hasSuper = true
		}
		out = append(out, r)
	}
	if !hasSuper {
		out = append(out, domain.RoleSuperAdmin)
	}
	p.perType[t] = out
	return p
}

// ApproverRolesFor returns the roles authorized to decide requests of type t.
func (p *Policy) ApproverRolesFor(t domain.RequestType) []domain.Role {
	if roles, ok := p.perType[t]; ok {
		return roles
	}
	return DefaultApproverRoles
}

// CanDecide reports whether role may approve or reject requests of type t.
func (p *Policy) CanDecide(role domain.Role, t domain.RequestType) bool {
	for _, r := range p.ApproverRolesFor(t) {
		if r == role {
			return true
		}
	}
	return false
}

// CanViewPending gates visibility of the pending-request list. It is a
// superset check over all types: any role that can decide something sees the
// queue.
func (p *Policy) CanViewPending(role domain.Role) bool {
	if role == domain.RoleSuperAdmin {
		return true
	}
	for _, t := range []domain.RequestType{
		domain.RequestProjectApproval,
		domain.RequestBudgetIncrease,
		domain.RequestStatusChange,
		domain.RequestUnblock,
	} {
		if p.CanDecide(role, t) {
			return true
		}
	}
	return false
}
