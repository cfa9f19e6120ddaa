package auth

import (
	"context"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

var permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*(:[a-z][a-z0-9_.-]*)*$`)

// PermissionPayload creates or updates a permission
type PermissionPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate will validate the payload
func (p PermissionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name,
			validation.Required,
			validation.Length(1, 128),
			validation.Match(permissionNamePattern).Error("must look like resource:action"),
		),
		validation.Field(&p.Description, validation.Length(0, 500)),
	)
}

// PermissionManager administers permissions
type PermissionManager struct {
	repo    RepositoryManager
	logger  Logger
	timeout time.Duration
}

func NewPermissionManager(repo RepositoryManager) *PermissionManager {
	return &PermissionManager{
		repo:    repo,
		logger:  defLogger{},
		timeout: 10 * time.Second,
	}
}

func (m *PermissionManager) WithLogger(logger Logger) *PermissionManager {
	m.logger = normalizeLogger(logger)
	return m
}

func (m *PermissionManager) List(ctx context.Context) ([]*Permission, error) {
	perms, err := m.repo.Permissions().List(ctx)
	if err != nil {
		return nil, failWith(m.logger, "list permissions", err)
	}
	return perms, nil
}

func (m *PermissionManager) Get(ctx context.Context, id int64) (*Permission, error) {
	perm, err := m.repo.Permissions().GetByID(ctx, id)
	if err != nil {
		return nil, failWith(m.logger, "get permission", err)
	}
	return perm, nil
}

func (m *PermissionManager) Create(ctx context.Context, payload PermissionPayload) (*Permission, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "permission creation")
	default:
	}

	if err := payload.Validate(); err != nil {
		return nil, failWith(m.logger, "create permission", goerrors.FromOzzoValidation(err, "invalid permission payload"))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	perm := &Permission{Name: payload.Name, Description: payload.Description}
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := m.repo.Permissions().ExistsByNameTx(ctx, tx, perm.Name)
		if err != nil {
			return err
		}
		if exists {
			return withMeta(ErrPermissionNameTaken, map[string]any{"name": perm.Name})
		}
		perm, err = m.repo.Permissions().CreateTx(ctx, tx, perm)
		return err
	})
	if err != nil {
		return nil, failWith(m.logger, "create permission", err)
	}

	m.logger.Info("permission created", "permission_id", perm.ID, "name", perm.Name)
	return perm, nil
}

func (m *PermissionManager) Update(ctx context.Context, id int64, payload PermissionPayload) (*Permission, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "permission update")
	default:
	}

	if err := payload.Validate(); err != nil {
		return nil, failWith(m.logger, "update permission", goerrors.FromOzzoValidation(err, "invalid permission payload"))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var perm *Permission
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if perm, err = m.repo.Permissions().GetByIDTx(ctx, tx, id); err != nil {
			return err
		}

		if perm.Name != payload.Name {
			exists, err := m.repo.Permissions().ExistsByNameTx(ctx, tx, payload.Name)
			if err != nil {
				return err
			}
			if exists {
				return withMeta(ErrPermissionNameTaken, map[string]any{"name": payload.Name})
			}
		}

		perm.Name = payload.Name
		perm.Description = payload.Description
		return m.repo.Permissions().UpdateTx(ctx, tx, perm)
	})
	if err != nil {
		return nil, failWith(m.logger, "update permission", err)
	}

	return perm, nil
}

// Delete refuses while any role still holds the permission
func (m *PermissionManager) Delete(ctx context.Context, id int64) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "permission deletion")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := m.repo.Permissions().GetByIDTx(ctx, tx, id); err != nil {
			return err
		}

		refs, err := m.repo.Permissions().CountRoleReferencesTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanDeletePermission(refs) {
			return withMeta(ErrPermissionInUse, map[string]any{"permission_id": id, "roles": refs})
		}

		return m.repo.Permissions().DeleteTx(ctx, tx, id)
	})
	if err != nil {
		return failWith(m.logger, "delete permission", err)
	}

	m.logger.Info("permission deleted", "permission_id", id)
	return nil
}
