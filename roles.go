package auth

import (
	"regexp"
	"strings"
)

// RoleName is a canonical role name, e.g. ROLE_ADMIN
type RoleName string

const (
	RoleUser      RoleName = "ROLE_USER"
	RoleAdmin     RoleName = "ROLE_ADMIN"
	RoleModerator RoleName = "ROLE_MODERATOR"
)

const rolePrefix = "ROLE_"

var roleNamePattern = regexp.MustCompile(`^ROLE_[A-Z][A-Z0-9_]*$`)

var roleAliases = map[string]RoleName{
	"USER":      RoleUser,
	"ADMIN":     RoleAdmin,
	"MOD":       RoleModerator,
	"MODERATOR": RoleModerator,
}

// SystemRoles returns the roles that can never be deleted
func SystemRoles() []RoleName {
	return []RoleName{RoleUser, RoleAdmin, RoleModerator}
}

// IsSystem reports whether the name is one of the three baseline roles
func (r RoleName) IsSystem() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	default:
		return false
	}
}

// IsValid checks the canonical ROLE_ form
func (r RoleName) IsValid() bool {
	return roleNamePattern.MatchString(string(r))
}

func (r RoleName) String() string {
	return string(r)
}

// NormalizeRoleName upper cases raw, adds the ROLE_ prefix when missing and
// checks the result. Aliases are applied, so "mod" becomes ROLE_MODERATOR.
func NormalizeRoleName(raw string) (RoleName, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if name == "" {
		return "", withMeta(ErrMalformedRoleName, map[string]any{"role": raw})
	}

	name = strings.TrimPrefix(name, rolePrefix)
	if alias, ok := roleAliases[name]; ok {
		return alias, nil
	}

	role := RoleName(rolePrefix + name)
	if !role.IsValid() {
		return "", withMeta(ErrMalformedRoleName, map[string]any{"role": raw})
	}

	return role, nil
}

// RolePolicy decides what registration does with a role it does not know
type RolePolicy int

const (
	// RolePolicyFallbackToUser silently maps unknown role requests to ROLE_USER
	RolePolicyFallbackToUser RolePolicy = iota
	// RolePolicyReject fails the registration with ErrUnknownRole
	RolePolicyReject
)

// RoleResolution is the outcome of resolving one requested role name
type RoleResolution struct {
	Requested string
	Name      RoleName
	Fallback  bool
}

// ResolveRoleName maps a requested role string to a role name. Registration
// only grants system roles, anything else follows the policy.
func ResolveRoleName(requested string, policy RolePolicy) (RoleResolution, error) {
	res := RoleResolution{Requested: requested}

	name, err := NormalizeRoleName(requested)
	if err == nil && name.IsSystem() {
		res.Name = name
		return res, nil
	}

	if policy == RolePolicyReject {
		return res, withMeta(ErrUnknownRole, map[string]any{"role": requested})
	}

	res.Name = RoleUser
	res.Fallback = true
	return res, nil
}

// ResolveRegistrationRoles resolves the requested names, deduplicated, and
// defaults to ROLE_USER when nothing was requested.
func ResolveRegistrationRoles(requested []string, policy RolePolicy) ([]RoleResolution, error) {
	if len(requested) == 0 {
		return []RoleResolution{{Name: RoleUser, Fallback: true}}, nil
	}

	seen := make(map[RoleName]bool, len(requested))
	out := make([]RoleResolution, 0, len(requested))
	for _, raw := range requested {
		res, err := ResolveRoleName(raw, policy)
		if err != nil {
			return nil, err
		}
		if seen[res.Name] {
			continue
		}
		seen[res.Name] = true
		out = append(out, res)
	}

	return out, nil
}
