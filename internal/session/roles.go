package session

import (
	"encoding/json"
	"sort"
	"strings"
)

const (
	RoleAdmin  = "admin"
	RoleDoctor = "doctor"
	RoleStaff  = "staff"
)

// RoleSet is a set of lowercase role names.
type RoleSet map[string]struct{}

// NormalizeRoles accepts roles as bare strings ("Doctor") or records
// ({"name": "Doctor"}) and returns their lowercase names. Entries of any
// other shape, and blank names, are skipped.
func NormalizeRoles(raw []json.RawMessage) RoleSet {
	set := make(RoleSet, len(raw))
	for _, item := range raw {
		if name := roleName(item); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

func roleName(item json.RawMessage) string {
	var name string
	if err := json.Unmarshal(item, &name); err == nil {
		return strings.ToLower(strings.TrimSpace(name))
	}
	var record struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(item, &record); err == nil {
		return strings.ToLower(strings.TrimSpace(record.Name))
	}
	return ""
}

func NewRoleSet(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

func (r RoleSet) Has(role string) bool {
	_, ok := r[strings.ToLower(role)]
	return ok
}

func (r RoleSet) Any(roles ...string) bool {
	for _, role := range roles {
		if r.Has(role) {
			return true
		}
	}
	return false
}

func (r RoleSet) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HomeView picks the landing view for a user, admin first.
func HomeView(roles RoleSet) string {
	switch {
	case roles.Has(RoleAdmin):
		return RoleAdmin
	case roles.Has(RoleDoctor):
		return RoleDoctor
	case roles.Has(RoleStaff):
		return RoleStaff
	}
	return "unauthorized"
}
