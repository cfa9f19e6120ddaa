package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RolePayload creates or updates a role. Name accepts aliases and is stored
// in canonical ROLE_ form.
type RolePayload struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
}

// Validate will validate the payload
func (p RolePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 64)),
		validation.Field(&p.Description, validation.Length(0, 500)),
	)
}

// RoleManager administers roles and their permission sets
type RoleManager struct {
	repo     RepositoryManager
	logger   Logger
	activity ActivitySink
	timeout  time.Duration
}

func NewRoleManager(repo RepositoryManager) *RoleManager {
	return &RoleManager{
		repo:     repo,
		logger:   defLogger{},
		activity: noopActivitySink{},
		timeout:  10 * time.Second,
	}
}

func (m *RoleManager) WithLogger(logger Logger) *RoleManager {
	m.logger = normalizeLogger(logger)
	return m
}

func (m *RoleManager) WithActivitySink(sink ActivitySink) *RoleManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

func (m *RoleManager) List(ctx context.Context) ([]*Role, error) {
	roles, err := m.repo.Roles().List(ctx)
	if err != nil {
		return nil, m.fail("list roles", err)
	}
	return roles, nil
}

func (m *RoleManager) Get(ctx context.Context, id int64) (*Role, error) {
	role, err := m.repo.Roles().GetByID(ctx, id)
	if err != nil {
		return nil, m.fail("get role", err)
	}
	return role, nil
}

// Create inserts a role. Duplicate names fail with Conflict, unknown
// permission ids with NotFound.
func (m *RoleManager) Create(ctx context.Context, payload RolePayload) (*Role, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "role creation")
	default:
	}

	name, err := m.validate(payload)
	if err != nil {
		return nil, m.fail("create role", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	role := &Role{Name: name, Description: payload.Description}
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := m.repo.Roles().ExistsByNameTx(ctx, tx, name)
		if err != nil {
			return err
		}
		if exists {
			return withMeta(ErrRoleNameTaken, map[string]any{"name": name})
		}

		perms, err := m.repo.Permissions().GetByIDsTx(ctx, tx, payload.PermissionIDs)
		if err != nil {
			return err
		}

		role, err = m.repo.Roles().CreateTx(ctx, tx, role, perms)
		return err
	})
	if err != nil {
		return nil, m.fail("create role", err)
	}

	m.logger.Info("role created", "role_id", role.ID, "name", role.Name)
	return role, nil
}

// Update renames the role, replaces its description and permission set.
// System roles keep their name.
func (m *RoleManager) Update(ctx context.Context, id int64, payload RolePayload) (*Role, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "role update")
	default:
	}

	name, err := m.validate(payload)
	if err != nil {
		return nil, m.fail("update role", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var role *Role
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if role, err = m.repo.Roles().GetByIDTx(ctx, tx, id); err != nil {
			return err
		}

		if role.Name != name {
			if role.IsSystem() {
				protected := withMeta(ErrSystemRoleProtected, map[string]any{"role": role.Name})
				protected.Message = "system roles cannot be renamed"
				return protected
			}
			exists, err := m.repo.Roles().ExistsByNameTx(ctx, tx, name)
			if err != nil {
				return err
			}
			if exists {
				return withMeta(ErrRoleNameTaken, map[string]any{"name": name})
			}
		}

		perms, err := m.repo.Permissions().GetByIDsTx(ctx, tx, payload.PermissionIDs)
		if err != nil {
			return err
		}

		role.Name = name
		role.Description = payload.Description
		if err := m.repo.Roles().UpdateTx(ctx, tx, role); err != nil {
			return err
		}
		if err := m.repo.Roles().SetPermissionsTx(ctx, tx, role.ID, perms); err != nil {
			return err
		}
		role.Permissions = perms
		return nil
	})
	if err != nil {
		return nil, m.fail("update role", err)
	}

	m.logger.Info("role updated", "role_id", role.ID, "name", role.Name)
	return role, nil
}

// Delete removes a non system role. Users left without any role are given
// ROLE_USER in the same transaction.
func (m *RoleManager) Delete(ctx context.Context, id int64) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "role deletion")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var role *Role
	var reassigned []int64
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if role, err = m.repo.Roles().GetByIDTx(ctx, tx, id); err != nil {
			return err
		}

		if !CanDeleteRole(role) {
			return withMeta(ErrSystemRoleProtected, map[string]any{"role": role.Name})
		}

		if err := m.repo.Roles().DeleteTx(ctx, tx, id); err != nil {
			return err
		}

		if reassigned, err = m.repo.Users().IDsWithoutRolesTx(ctx, tx); err != nil {
			return err
		}
		if len(reassigned) == 0 {
			return nil
		}

		base, err := m.repo.Roles().GetByNameTx(ctx, tx, RoleUser)
		if err != nil {
			return internalError(err, "base role missing from role table")
		}
		for _, userID := range reassigned {
			if err := m.repo.Users().SetRolesTx(ctx, tx, userID, []*Role{base}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return m.fail("delete role", err)
	}

	m.logger.Info("role deleted", "role_id", id, "name", role.Name, "reassigned_users", len(reassigned))
	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventRoleDeleted,
		Metadata: map[string]any{
			"role_id":          id,
			"role":             role.Name,
			"reassigned_users": reassigned,
		},
	})
	return nil
}

func (m *RoleManager) validate(payload RolePayload) (RoleName, error) {
	if err := payload.Validate(); err != nil {
		return "", goerrors.FromOzzoValidation(err, "invalid role payload")
	}
	return NormalizeRoleName(payload.Name)
}

func (m *RoleManager) fail(op string, err error) error {
	return failWith(m.logger, op, err)
}
