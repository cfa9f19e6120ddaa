package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Users is the user side of the credential store. Every read loads Roles.
type Users interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	GetByPhoneTx(ctx context.Context, tx bun.IDB, phone string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error)
	// List returns a page of users ordered by id and the total count
	List(ctx context.Context, limit, offset int) ([]*User, int, error)

	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	ExistsByPhoneTx(ctx context.Context, tx bun.IDB, phone string) (bool, error)

	Create(ctx context.Context, user *User, roles []*Role) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User, roles []*Role) (*User, error)
	Update(ctx context.Context, user *User, columns ...string) error
	UpdateTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) error
	SetRoles(ctx context.Context, userID int64, roles []*Role) error
	SetRolesTx(ctx context.Context, tx bun.IDB, userID int64, roles []*Role) error
	Delete(ctx context.Context, id int64) error
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error

	// LockTx serializes writers touching rows owned by the user
	LockTx(ctx context.Context, tx bun.IDB, id int64) error
	// IDsWithoutRolesTx lists users that hold no role at all
	IDsWithoutRolesTx(ctx context.Context, tx bun.IDB) ([]int64, error)
}

type users struct {
	db *bun.DB
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB) Users {
	return &users{db: db}
}

func (a *users) GetByID(ctx context.Context, id int64) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error) {
	return a.getBy(ctx, tx, "id", id)
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	return a.getBy(ctx, tx, "email", NormalizeEmail(email))
}

func (a *users) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return a.GetByPhoneTx(ctx, a.db, phone)
}

func (a *users) GetByPhoneTx(ctx context.Context, tx bun.IDB, phone string) (*User, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, withMeta(ErrUserNotFound, map[string]any{"phone": phone})
	}
	return a.getBy(ctx, tx, "phone", normalized)
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier)
}

// GetByIdentifierTx tries the identifier as an email first, then as a phone.
// Identifiers holding an @ are only ever emails.
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, withMeta(ErrUserNotFound, map[string]any{"identifier": identifier})
	}

	user, err := a.GetByEmailTx(ctx, tx, trimmed)
	if err == nil {
		return user, nil
	}
	if !HasTextCode(err, TextCodeUserNotFound) {
		return nil, err
	}
	if strings.Contains(trimmed, "@") {
		return nil, withMeta(ErrUserNotFound, map[string]any{"identifier": identifier})
	}

	user, err = a.GetByPhoneTx(ctx, tx, trimmed)
	if err != nil {
		if HasTextCode(err, TextCodeUserNotFound) {
			return nil, withMeta(ErrUserNotFound, map[string]any{"identifier": identifier})
		}
		return nil, err
	}

	return user, nil
}

func (a *users) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var records []*User
	total, err := a.db.NewSelect().
		Model(&records).
		Relation("Roles").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, storageError(err, "failed to list users")
	}
	return records, total, nil
}

func (a *users) getBy(ctx context.Context, tx bun.IDB, column string, value any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Relation("Roles").
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if isNoRows(err) {
			return nil, withMeta(ErrUserNotFound, map[string]any{column: value})
		}
		return nil, storageError(err, "failed to load user")
	}

	return record, nil
}

func (a *users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return a.ExistsByEmailTx(ctx, a.db, email)
}

func (a *users) ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	return a.existsBy(ctx, tx, "email", NormalizeEmail(email))
}

func (a *users) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	return a.ExistsByPhoneTx(ctx, a.db, phone)
}

func (a *users) ExistsByPhoneTx(ctx context.Context, tx bun.IDB, phone string) (bool, error) {
	return a.existsBy(ctx, tx, "phone", NormalizePhone(phone))
}

func (a *users) existsBy(ctx context.Context, tx bun.IDB, column string, value string) (bool, error) {
	if value == "" {
		return false, nil
	}

	exists, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Exists(ctx)
	if err != nil {
		return false, storageError(err, "failed to check user existence")
	}
	return exists, nil
}

func (a *users) Create(ctx context.Context, user *User, roles []*Role) (*User, error) {
	return a.CreateTx(ctx, a.db, user, roles)
}

// CreateTx inserts the user and its role assignments
func (a *users) CreateTx(ctx context.Context, tx bun.IDB, user *User, roles []*Role) (*User, error) {
	prepareUserDefaults(user)

	if _, err := tx.NewInsert().Model(user).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, uniqueUserConflict(err, user)
		}
		return nil, storageError(err, "failed to insert user")
	}

	if err := a.SetRolesTx(ctx, tx, user.ID, roles); err != nil {
		return nil, err
	}

	user.Roles = roles
	return user, nil
}

func (a *users) Update(ctx context.Context, user *User, columns ...string) error {
	return a.UpdateTx(ctx, a.db, user, columns...)
}

// UpdateTx writes columns (all when empty) and bumps updated_at
func (a *users) UpdateTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) error {
	user.UpdatedAt = time.Now().UTC()

	q := tx.NewUpdate().Model(user).WherePK()
	if len(columns) > 0 {
		q = q.Column(append(slices.Clone(columns), "updated_at")...)
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueUserConflict(err, user)
		}
		return storageError(err, "failed to update user")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withMeta(ErrUserNotFound, map[string]any{"id": user.ID})
	}

	return nil
}

func (a *users) SetRoles(ctx context.Context, userID int64, roles []*Role) error {
	return a.SetRolesTx(ctx, a.db, userID, roles)
}

// SetRolesTx replaces the user's role assignments
func (a *users) SetRolesTx(ctx context.Context, tx bun.IDB, userID int64, roles []*Role) error {
	if _, err := tx.NewDelete().
		Model((*UserRoleAssignment)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx); err != nil {
		return storageError(err, "failed to clear user roles")
	}

	if len(roles) == 0 {
		return nil
	}

	assignments := make([]*UserRoleAssignment, 0, len(roles))
	for _, role := range roles {
		assignments = append(assignments, &UserRoleAssignment{UserID: userID, RoleID: role.ID})
	}

	if _, err := tx.NewInsert().Model(&assignments).Exec(ctx); err != nil {
		return storageError(err, "failed to assign user roles")
	}

	return nil
}

func (a *users) Delete(ctx context.Context, id int64) error {
	return a.DeleteTx(ctx, a.db, id)
}

// DeleteTx removes the user and its role assignments. Verification tokens
// are the ledger's concern.
func (a *users) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	if _, err := tx.NewDelete().
		Model((*UserRoleAssignment)(nil)).
		Where("user_id = ?", id).
		Exec(ctx); err != nil {
		return storageError(err, "failed to delete user roles")
	}

	res, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to delete user")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withMeta(ErrUserNotFound, map[string]any{"id": id})
	}

	return nil
}

func (a *users) LockTx(ctx context.Context, tx bun.IDB, id int64) error {
	q := tx.NewSelect().
		Model((*User)(nil)).
		Column("id").
		Where("?TableAlias.id = ?", id)

	// sqlite serializes writers on its own and has no row locks
	if tx.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}

	var locked int64
	if err := q.Scan(ctx, &locked); err != nil {
		if isNoRows(err) {
			return withMeta(ErrUserNotFound, map[string]any{"id": id})
		}
		return storageError(err, "failed to lock user")
	}

	return nil
}

func (a *users) IDsWithoutRolesTx(ctx context.Context, tx bun.IDB) ([]int64, error) {
	var ids []int64
	err := tx.NewSelect().
		Model((*User)(nil)).
		Column("id").
		Where("NOT EXISTS (SELECT 1 FROM user_roles AS ur WHERE ur.user_id = ?TableAlias.id)").
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, storageError(err, "failed to list users without roles")
	}
	return ids, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)
	record.Phone = NormalizePhone(record.Phone)

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}

func uniqueUserConflict(err error, user *User) error {
	msg := err.Error()
	if strings.Contains(msg, "phone") {
		return withMeta(ErrPhoneTaken, map[string]any{"phone": user.Phone})
	}
	return withMeta(ErrEmailTaken, map[string]any{"email": user.Email})
}
