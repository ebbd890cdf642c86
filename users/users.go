package users

import (
	"slices"
	"strings"
)

// RoleType represents the role the backend assigns to a console user
type RoleType string

const (
	// Head office roles
	RoleHQ      RoleType = "HQ"       // Head office staff
	RoleHQAdmin RoleType = "HQ_ADMIN" // Head office administrator

	// Franchise roles
	RoleStoreAdmin RoleType = "STORE_ADMIN" // Franchise owner, always bound to one store

	// Operator roles
	RoleSystem RoleType = "SYSTEM"
)

// Namespace is the path prefix a role is allowed to navigate under.
type Namespace string

const (
	NamespaceNone   Namespace = ""
	NamespaceHQ     Namespace = "/hq"
	NamespaceStore  Namespace = "/store"
	NamespaceSystem Namespace = "/system"
)

var namespaces = []Namespace{NamespaceHQ, NamespaceStore, NamespaceSystem}

// ParseRole normalises a backend role string. Unknown roles are kept as-is.
func ParseRole(raw string) RoleType {
	return RoleType(strings.ToUpper(strings.TrimSpace(raw)))
}

func (r RoleType) String() string {
	return string(r)
}

// IsHQ returns true for every head office role
func (r RoleType) IsHQ() bool {
	return r == RoleHQ || r == RoleHQAdmin
}

// RequiresStore returns true if sessions with this role must carry a store id
func (r RoleType) RequiresStore() bool {
	return r == RoleStoreAdmin
}

// Known returns true if the role is one the console can route
func (r RoleType) Known() bool {
	return r.Namespace() != NamespaceNone
}

// Namespace returns the path prefix the role owns.
func (r RoleType) Namespace() Namespace {
	switch {
	case r.IsHQ():
		return NamespaceHQ
	case r == RoleStoreAdmin:
		return NamespaceStore
	case r == RoleSystem:
		return NamespaceSystem
	default:
		return NamespaceNone
	}
}

// HomePath returns the landing page for the role.
func (r RoleType) HomePath() string {
	if ns := r.Namespace(); ns != NamespaceNone {
		return string(ns) + "/dashboard"
	}
	return "/"
}

// ConfinedToNamespace returns true if the role may not visit shared pages
// such as "/" or "/mypage".
func (r RoleType) ConfinedToNamespace() bool {
	return r == RoleSystem
}

// NamespaceOf returns the role namespace a path belongs to, or NamespaceNone
// for shared paths.
func NamespaceOf(path string) Namespace {
	for _, ns := range namespaces {
		prefix := string(ns)
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return ns
		}
	}
	return NamespaceNone
}

// CanAccess reports whether the role may navigate to path.
func (r RoleType) CanAccess(path string) bool {
	ns := NamespaceOf(path)
	if ns == NamespaceNone {
		return r.Known() && !r.ConfinedToNamespace()
	}
	return ns == r.Namespace()
}

// FirstRole picks the first non-empty role from a list of candidates
func FirstRole(candidates ...string) RoleType {
	idx := slices.IndexFunc(candidates, func(c string) bool { return strings.TrimSpace(c) != "" })
	if idx < 0 {
		return ""
	}
	return ParseRole(candidates[idx])
}
