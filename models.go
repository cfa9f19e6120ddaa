package auth

import (
	"time"

	"github.com/uptrace/bun"
)

// TokenPurpose tags a verification token with the flow that consumes it
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "EMAIL_VERIFICATION"
	PurposePasswordReset     TokenPurpose = "PASSWORD_RESET"
)

// User is the user model. Roles are loaded through the user_roles join table.
type User struct {
	bun.BaseModel   `bun:"table:users,alias:usr"`
	ID              int64     `bun:"id,pk,autoincrement" json:"id"`
	FirstName       string    `bun:"first_name,notnull" json:"first_name"`
	LastName        string    `bun:"last_name,notnull" json:"last_name"`
	Email           string    `bun:"email,notnull,unique" json:"email"`
	Phone           string    `bun:"phone,notnull,unique" json:"phone"`
	PasswordHash    string    `bun:"password_hash,notnull" json:"-"`
	EmailVerified   bool      `bun:"email_verified,notnull" json:"email_verified"`
	AccountVerified bool      `bun:"account_verified,notnull" json:"account_verified"`
	Roles           []*Role   `bun:"m2m:user_roles,join:User=Role" json:"roles,omitempty"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// RoleNames returns the names of the loaded roles
func (u *User) RoleNames() []string {
	return AuthoritiesOf(u)
}

// UserRoleAssignment joins users and roles
type UserRoleAssignment struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`
	UserID        int64 `bun:"user_id,pk"`
	User          *User `bun:"rel:belongs-to,join:user_id=id"`
	RoleID        int64 `bun:"role_id,pk"`
	Role          *Role `bun:"rel:belongs-to,join:role_id=id"`
}

// Role groups permissions under a canonical ROLE_ name
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rl"`
	ID            int64         `bun:"id,pk,autoincrement" json:"id"`
	Name          RoleName      `bun:"name,notnull,unique" json:"name"`
	Description   string        `bun:"description,notnull" json:"description"`
	Permissions   []*Permission `bun:"m2m:role_permissions,join:Role=Permission" json:"permissions,omitempty"`
	CreatedAt     time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

// IsSystem reports whether the role is one of the undeletable baseline roles
func (r *Role) IsSystem() bool {
	return r != nil && r.Name.IsSystem()
}

// RolePermission joins roles and permissions
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`
	RoleID        int64       `bun:"role_id,pk"`
	Role          *Role       `bun:"rel:belongs-to,join:role_id=id"`
	PermissionID  int64       `bun:"permission_id,pk"`
	Permission    *Permission `bun:"rel:belongs-to,join:permission_id=id"`
}

// Permission is a named capability. It holds no reference to the roles using it.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Name          string    `bun:"name,notnull,unique" json:"name"`
	Description   string    `bun:"description,notnull" json:"description"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// VerificationToken is a single use token owned by one user
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens,alias:vt"`
	ID            int64        `bun:"id,pk,autoincrement" json:"id"`
	Token         string       `bun:"token,notnull,unique" json:"-"`
	UserID        int64        `bun:"user_id,notnull" json:"user_id"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
}

// Expired reports whether the token is past its expiry at now
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RegisterModels registers the m2m join models, bun requires this before
// any relation query touching Roles or Permissions.
func RegisterModels(db *bun.DB) {
	db.RegisterModel(
		(*UserRoleAssignment)(nil),
		(*RolePermission)(nil),
	)
}
