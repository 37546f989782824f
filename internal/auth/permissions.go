package auth

import (
	"fmt"
	"sort"
	"strings"

	"rhgestor.org/internal/apperr"
)

// Role selects how an identity is authorized.
type Role string

const (
	// RoleAdmin is the unrestricted tier.
	RoleAdmin Role = "admin"
	// RoleRH is the granular tier, gated by a PermissionDocument.
	RoleRH Role = "rh"
)

// ParseRole validates a role name. An empty value yields RoleRH.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return RoleRH, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleRH:
		return RoleRH, nil
	default:
		return "", apperr.Invalid("role must be one of %q or %q", RoleAdmin, RoleRH)
	}
}

// Unrestricted reports whether the role bypasses permission lookups.
func (r Role) Unrestricted() bool { return r == RoleAdmin }

// Resource names an entity class guarded by the authorizer.
type Resource string

// Action names an operation on a Resource.
type Action string

const (
	ResourceEmployee   Resource = "employee"
	ResourceDocument   Resource = "document"
	ResourceAnnotation Resource = "annotation"
	ResourceSettings   Resource = "settings"
	// ResourceAdminUser is never grantable, so only RoleAdmin reaches it.
	ResourceAdminUser Resource = "adminUser"

	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

var grantable = map[Resource]struct{}{
	ResourceEmployee:   {},
	ResourceDocument:   {},
	ResourceAnnotation: {},
	ResourceSettings:   {},
}

var knownActions = map[Action]struct{}{
	ActionCreate: {},
	ActionEdit:   {},
	ActionDelete: {},
}

// Permission is a (resource, action) pair required by an operation.
type Permission struct {
	Resource Resource
	Action   Action
}

func (p Permission) String() string { return string(p.Resource) + ":" + string(p.Action) }

// Perm is shorthand for building a Permission.
func Perm(r Resource, a Action) Permission { return Permission{Resource: r, Action: a} }

// PermissionDocument maps a resource to its allowed actions.
// A missing resource, missing action, or false flag denies.
type PermissionDocument map[Resource]map[Action]bool

// Allows reports whether the document grants p exactly.
func (d PermissionDocument) Allows(p Permission) bool {
	if d == nil {
		return false
	}
	actions, ok := d[p.Resource]
	if !ok {
		return false
	}
	return actions[p.Action]
}

// Validate rejects resources or actions that cannot be granted.
func (d PermissionDocument) Validate() error {
	var v apperr.ValidationError
	resources := make([]string, 0, len(d))
	for r := range d {
		resources = append(resources, string(r))
	}
	sort.Strings(resources)
	for _, name := range resources {
		r := Resource(name)
		if _, ok := grantable[r]; !ok {
			v.Add("permissions", fmt.Sprintf("resource %q cannot be granted", r))
			continue
		}
		for a := range d[r] {
			if _, ok := knownActions[a]; !ok {
				v.Add("permissions", fmt.Sprintf("unknown action %q for %q", a, r))
			}
		}
	}
	return v.Err()
}

// Clone returns a deep copy.
func (d PermissionDocument) Clone() PermissionDocument {
	if d == nil {
		return nil
	}
	out := make(PermissionDocument, len(d))
	for r, actions := range d {
		cp := make(map[Action]bool, len(actions))
		for a, ok := range actions {
			cp[a] = ok
		}
		out[r] = cp
	}
	return out
}
