package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Permissions is the permission side of the credential store
type Permissions interface {
	GetByID(ctx context.Context, id int64) (*Permission, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Permission, error)
	// GetByIDsTx fails with ErrPermissionNotFound unless every id exists
	GetByIDsTx(ctx context.Context, tx bun.IDB, ids []int64) ([]*Permission, error)
	List(ctx context.Context) ([]*Permission, error)
	ListTx(ctx context.Context, tx bun.IDB) ([]*Permission, error)
	ExistsByNameTx(ctx context.Context, tx bun.IDB, name string) (bool, error)
	CreateTx(ctx context.Context, tx bun.IDB, perm *Permission) (*Permission, error)
	UpdateTx(ctx context.Context, tx bun.IDB, perm *Permission) error
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error
	// CountRoleReferencesTx counts the roles holding the permission
	CountRoleReferencesTx(ctx context.Context, tx bun.IDB, id int64) (int, error)
}

type permissions struct {
	db *bun.DB
}

var _ Permissions = (*permissions)(nil)

func NewPermissionsRepository(db *bun.DB) Permissions {
	return &permissions{db: db}
}

func (p *permissions) GetByID(ctx context.Context, id int64) (*Permission, error) {
	return p.GetByIDTx(ctx, p.db, id)
}

func (p *permissions) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Permission, error) {
	record := &Permission{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, withMeta(ErrPermissionNotFound, map[string]any{"id": id})
		}
		return nil, storageError(err, "failed to load permission")
	}
	return record, nil
}

func (p *permissions) GetByIDsTx(ctx context.Context, tx bun.IDB, ids []int64) ([]*Permission, error) {
	if len(ids) == 0 {
		return []*Permission{}, nil
	}

	var records []*Permission
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "failed to load permissions")
	}

	found := make(map[int64]bool, len(records))
	for _, perm := range records {
		found[perm.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, withMeta(ErrPermissionNotFound, map[string]any{"id": id})
		}
	}

	return records, nil
}

func (p *permissions) List(ctx context.Context) ([]*Permission, error) {
	return p.ListTx(ctx, p.db)
}

func (p *permissions) ListTx(ctx context.Context, tx bun.IDB) ([]*Permission, error) {
	records := make([]*Permission, 0)
	if err := tx.NewSelect().Model(&records).Order("id ASC").Scan(ctx); err != nil {
		return nil, storageError(err, "failed to list permissions")
	}
	return records, nil
}

func (p *permissions) ExistsByNameTx(ctx context.Context, tx bun.IDB, name string) (bool, error) {
	exists, err := tx.NewSelect().
		Model((*Permission)(nil)).
		Where("?TableAlias.name = ?", name).
		Exists(ctx)
	if err != nil {
		return false, storageError(err, "failed to check permission existence")
	}
	return exists, nil
}

func (p *permissions) CreateTx(ctx context.Context, tx bun.IDB, perm *Permission) (*Permission, error) {
	now := time.Now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now

	if _, err := tx.NewInsert().Model(perm).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, withMeta(ErrPermissionNameTaken, map[string]any{"name": perm.Name})
		}
		return nil, storageError(err, "failed to insert permission")
	}
	return perm, nil
}

func (p *permissions) UpdateTx(ctx context.Context, tx bun.IDB, perm *Permission) error {
	perm.UpdatedAt = time.Now().UTC()

	res, err := tx.NewUpdate().
		Model(perm).
		Column("name", "description", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return withMeta(ErrPermissionNameTaken, map[string]any{"name": perm.Name})
		}
		return storageError(err, "failed to update permission")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withMeta(ErrPermissionNotFound, map[string]any{"id": perm.ID})
	}

	return nil
}

func (p *permissions) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	res, err := tx.NewDelete().
		Model((*Permission)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to delete permission")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withMeta(ErrPermissionNotFound, map[string]any{"id": id})
	}

	return nil
}

func (p *permissions) CountRoleReferencesTx(ctx context.Context, tx bun.IDB, id int64) (int, error) {
	count, err := tx.NewSelect().
		Model((*RolePermission)(nil)).
		Where("permission_id = ?", id).
		Count(ctx)
	if err != nil {
		return 0, storageError(err, "failed to count permission references")
	}
	return count, nil
}
