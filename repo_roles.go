package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Roles is the role side of the credential store. Reads load Permissions.
type Roles interface {
	GetByID(ctx context.Context, id int64) (*Role, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Role, error)
	GetByName(ctx context.Context, name RoleName) (*Role, error)
	GetByNameTx(ctx context.Context, tx bun.IDB, name RoleName) (*Role, error)
	// GetByNamesTx fails with ErrRoleNotFound unless every name exists
	GetByNamesTx(ctx context.Context, tx bun.IDB, names []RoleName) ([]*Role, error)
	List(ctx context.Context) ([]*Role, error)
	ListTx(ctx context.Context, tx bun.IDB) ([]*Role, error)
	ExistsByName(ctx context.Context, name RoleName) (bool, error)
	ExistsByNameTx(ctx context.Context, tx bun.IDB, name RoleName) (bool, error)

	CreateTx(ctx context.Context, tx bun.IDB, role *Role, permissions []*Permission) (*Role, error)
	UpdateTx(ctx context.Context, tx bun.IDB, role *Role) error
	SetPermissionsTx(ctx context.Context, tx bun.IDB, roleID int64, permissions []*Permission) error
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error
}

type roles struct {
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	return &roles{db: db}
}

func (r *roles) GetByID(ctx context.Context, id int64) (*Role, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *roles) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Role, error) {
	return r.getBy(ctx, tx, "id", id)
}

func (r *roles) GetByName(ctx context.Context, name RoleName) (*Role, error) {
	return r.GetByNameTx(ctx, r.db, name)
}

func (r *roles) GetByNameTx(ctx context.Context, tx bun.IDB, name RoleName) (*Role, error) {
	return r.getBy(ctx, tx, "name", name)
}

func (r *roles) getBy(ctx context.Context, tx bun.IDB, column string, value any) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().
		Model(record).
		Relation("Permissions").
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if isNoRows(err) {
			return nil, withMeta(ErrRoleNotFound, map[string]any{column: value})
		}
		return nil, storageError(err, "failed to load role")
	}

	return record, nil
}

func (r *roles) GetByNamesTx(ctx context.Context, tx bun.IDB, names []RoleName) ([]*Role, error) {
	if len(names) == 0 {
		return []*Role{}, nil
	}

	var records []*Role
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.name IN (?)", bun.In(names)).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "failed to load roles")
	}

	found := make(map[RoleName]bool, len(records))
	for _, role := range records {
		found[role.Name] = true
	}
	for _, name := range names {
		if !found[name] {
			return nil, withMeta(ErrRoleNotFound, map[string]any{"name": name})
		}
	}

	return records, nil
}

func (r *roles) List(ctx context.Context) ([]*Role, error) {
	return r.ListTx(ctx, r.db)
}

func (r *roles) ListTx(ctx context.Context, tx bun.IDB) ([]*Role, error) {
	records := make([]*Role, 0)
	err := tx.NewSelect().
		Model(&records).
		Relation("Permissions").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "failed to list roles")
	}
	return records, nil
}

func (r *roles) ExistsByName(ctx context.Context, name RoleName) (bool, error) {
	return r.ExistsByNameTx(ctx, r.db, name)
}

func (r *roles) ExistsByNameTx(ctx context.Context, tx bun.IDB, name RoleName) (bool, error) {
	exists, err := tx.NewSelect().
		Model((*Role)(nil)).
		Where("?TableAlias.name = ?", name).
		Exists(ctx)
	if err != nil {
		return false, storageError(err, "failed to check role existence")
	}
	return exists, nil
}

func (r *roles) CreateTx(ctx context.Context, tx bun.IDB, role *Role, permissions []*Permission) (*Role, error) {
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	if _, err := tx.NewInsert().Model(role).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, withMeta(ErrRoleNameTaken, map[string]any{"name": role.Name})
		}
		return nil, storageError(err, "failed to insert role")
	}

	if err := r.SetPermissionsTx(ctx, tx, role.ID, permissions); err != nil {
		return nil, err
	}

	role.Permissions = permissions
	return role, nil
}

func (r *roles) UpdateTx(ctx context.Context, tx bun.IDB, role *Role) error {
	role.UpdatedAt = time.Now().UTC()

	res, err := tx.NewUpdate().
		Model(role).
		Column("name", "description", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return withMeta(ErrRoleNameTaken, map[string]any{"name": role.Name})
		}
		return storageError(err, "failed to update role")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withMeta(ErrRoleNotFound, map[string]any{"id": role.ID})
	}

	return nil
}

// SetPermissionsTx replaces the role's permission set
func (r *roles) SetPermissionsTx(ctx context.Context, tx bun.IDB, roleID int64, permissions []*Permission) error {
	if _, err := tx.NewDelete().
		Model((*RolePermission)(nil)).
		Where("role_id = ?", roleID).
		Exec(ctx); err != nil {
		return storageError(err, "failed to clear role permissions")
	}

	if len(permissions) == 0 {
		return nil
	}

	links := make([]*RolePermission, 0, len(permissions))
	for _, perm := range permissions {
		links = append(links, &RolePermission{RoleID: roleID, PermissionID: perm.ID})
	}

	if _, err := tx.NewInsert().Model(&links).Exec(ctx); err != nil {
		return storageError(err, "failed to assign role permissions")
	}

	return nil
}

// DeleteTx removes the role together with its permission links and user assignments
func (r *roles) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	if _, err := tx.NewDelete().
		Model((*RolePermission)(nil)).
		Where("role_id = ?", id).
		Exec(ctx); err != nil {
		return storageError(err, "failed to delete role permissions")
	}

	if _, err := tx.NewDelete().
		Model((*UserRoleAssignment)(nil)).
		Where("role_id = ?", id).
		Exec(ctx); err != nil {
		return storageError(err, "failed to delete role assignments")
	}

	res, err := tx.NewDelete().
		Model((*Role)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to delete role")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withMeta(ErrRoleNotFound, map[string]any{"id": id})
	}

	return nil
}
