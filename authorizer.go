package auth

import (
	"slices"
	"sort"
)

// Principal is the authenticated identity making a request
type Principal struct {
	UserID      int64    `json:"user_id"`
	Subject     string   `json:"subject"`
	Authorities []string `json:"authorities"`
}

// HasAuthority reports whether the principal holds role
func (p Principal) HasAuthority(role RoleName) bool {
	return HasAuthority(p.Authorities, role)
}

// IsAuthenticated is false for the zero Principal
func (p Principal) IsAuthenticated() bool {
	return p.UserID != 0 && p.Subject != ""
}

// PrincipalFromClaims builds a principal from validated access token claims.
// No storage lookup happens, a deleted user keeps access until expiry.
func PrincipalFromClaims(claims *JWTClaims) Principal {
	if claims == nil {
		return Principal{}
	}
	return Principal{
		UserID:      claims.UID,
		Subject:     claims.Subject(),
		Authorities: normalizeAuthorities(claims.Roles),
	}
}

// PrincipalFromUser builds a principal from a loaded user and its roles
func PrincipalFromUser(user *User) Principal {
	if user == nil {
		return Principal{}
	}
	return Principal{
		UserID:      user.ID,
		Subject:     user.Email,
		Authorities: AuthoritiesOf(user),
	}
}

// AuthoritiesOf flattens the user's loaded roles into sorted role names
func AuthoritiesOf(user *User) []string {
	if user == nil {
		return []string{}
	}

	names := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		if role == nil || role.Name == "" {
			continue
		}
		names = append(names, string(role.Name))
	}

	return normalizeAuthorities(names)
}

// HasAuthority reports whether role is in authorities
func HasAuthority(authorities []string, role RoleName) bool {
	if role == "" {
		return false
	}
	return slices.Contains(authorities, string(role))
}

// IsSelfOrRole grants access when the principal is the target or holds requiredRole
func IsSelfOrRole(principal Principal, targetID int64, requiredRole RoleName) bool {
	if principal.UserID != 0 && principal.UserID == targetID {
		return true
	}
	return principal.HasAuthority(requiredRole)
}

// CanDeleteRole is false for the system roles
func CanDeleteRole(role *Role) bool {
	return role != nil && !role.IsSystem()
}

// CanDeletePermission is false while any role references the permission
func CanDeletePermission(referencingRoles int) bool {
	return referencingRoles == 0
}

// PermissionsOf flattens the loaded permissions of roles into sorted names
func PermissionsOf(roles []*Role) []string {
	names := make([]string, 0)
	for _, role := range roles {
		if role == nil {
			continue
		}
		for _, perm := range role.Permissions {
			if perm != nil && perm.Name != "" {
				names = append(names, perm.Name)
			}
		}
	}
	return normalizeAuthorities(names)
}

// AccessRequirement describes who may perform an operation. A zero OwnerID
// means the resource has no owner, an empty RequiredRole means no role grants it.
// The zero requirement admits any authenticated principal.
type AccessRequirement struct {
	RequiredRole RoleName
	OwnerID      int64
}

// RequireRole admits holders of role
func RequireRole(role RoleName) AccessRequirement {
	return AccessRequirement{RequiredRole: role}
}

// RequireSelfOrRole admits the owner or holders of role
func RequireSelfOrRole(ownerID int64, role RoleName) AccessRequirement {
	return AccessRequirement{RequiredRole: role, OwnerID: ownerID}
}

// Decide answers whether principal satisfies req
func Decide(principal Principal, req AccessRequirement) bool {
	if !principal.IsAuthenticated() {
		return false
	}

	if req.OwnerID == 0 && req.RequiredRole == "" {
		return true
	}

	if req.OwnerID != 0 && IsSelfOrRole(principal, req.OwnerID, req.RequiredRole) {
		return true
	}

	return principal.HasAuthority(req.RequiredRole)
}

func normalizeAuthorities(names []string) []string {
	out := slices.Clone(names)
	sort.Strings(out)
	return slices.Compact(out)
}
