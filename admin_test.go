package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-workorder-auth"
)

func TestPermissionManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	perms := f.svc.PermissionManager()

	read, err := perms.Create(ctx, auth.PermissionPayload{Name: "workorders:read", Description: "read work orders"})
	require.NoError(t, err)
	assert.NotZero(t, read.ID)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := perms.Create(ctx, auth.PermissionPayload{Name: "workorders:read"})
		require.Error(t, err)
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
		assert.True(t, auth.HasTextCode(err, auth.TextCodePermissionNameTaken))
	})

	t.Run("malformed name", func(t *testing.T) {
		_, err := perms.Create(ctx, auth.PermissionPayload{Name: "Work Orders"})
		require.Error(t, err)
		assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))
	})

	t.Run("update", func(t *testing.T) {
		write, err := perms.Create(ctx, auth.PermissionPayload{Name: "workorders:write"})
		require.NoError(t, err)

		_, err = perms.Update(ctx, write.ID, auth.PermissionPayload{Name: "workorders:read"})
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))

		updated, err := perms.Update(ctx, write.ID, auth.PermissionPayload{Name: "workorders:edit", Description: "edit"})
		require.NoError(t, err)
		assert.Equal(t, "workorders:edit", updated.Name)

		got, err := perms.Get(ctx, write.ID)
		require.NoError(t, err)
		assert.Equal(t, "edit", got.Description)
	})

	t.Run("in use", func(t *testing.T) {
		role, err := f.svc.RoleManager().Create(ctx, auth.RolePayload{Name: "viewer", PermissionIDs: []int64{read.ID}})
		require.NoError(t, err)

		err = perms.Delete(ctx, read.ID)
		require.Error(t, err)
		assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))
		assert.True(t, auth.HasTextCode(err, auth.TextCodePermissionInUse))

		require.NoError(t, f.svc.RoleManager().Delete(ctx, role.ID))
		require.NoError(t, perms.Delete(ctx, read.ID))

		_, err = perms.Get(ctx, read.ID)
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
	})

	t.Run("delete unknown", func(t *testing.T) {
		err := perms.Delete(ctx, 4242)
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
	})
}

func TestRoleManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	roles := f.svc.RoleManager()

	perm, err := f.svc.PermissionManager().Create(ctx, auth.PermissionPayload{Name: "workorders:assign"})
	require.NoError(t, err)

	role, err := roles.Create(ctx, auth.RolePayload{Name: "dispatcher", PermissionIDs: []int64{perm.ID}})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleName("ROLE_DISPATCHER"), role.Name)
	require.Len(t, role.Permissions, 1)

	t.Run("create conflicts and bad input", func(t *testing.T) {
		_, err := roles.Create(ctx, auth.RolePayload{Name: "ROLE_DISPATCHER"})
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))

		_, err = roles.Create(ctx, auth.RolePayload{Name: "admin"})
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))

		_, err = roles.Create(ctx, auth.RolePayload{Name: "bad role!"})
		assert.True(t, auth.HasTextCode(err, auth.TextCodeMalformedRoleName))

		_, err = roles.Create(ctx, auth.RolePayload{Name: "auditor", PermissionIDs: []int64{perm.ID, 9999}})
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
	})

	t.Run("system roles", func(t *testing.T) {
		admin, err := f.repo.Roles().GetByName(ctx, auth.RoleAdmin)
		require.NoError(t, err)

		err = roles.Delete(ctx, admin.ID)
		require.Error(t, err)
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
		assert.True(t, auth.HasTextCode(err, auth.TextCodeSystemRoleProtected))

		_, err = roles.Update(ctx, admin.ID, auth.RolePayload{Name: "superadmin"})
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err))

		updated, err := roles.Update(ctx, admin.ID, auth.RolePayload{Name: "admin", Description: "administrators", PermissionIDs: []int64{perm.ID}})
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, updated.Name)
		assert.Len(t, updated.Permissions, 1)
	})

	t.Run("delete reassigns orphaned users", func(t *testing.T) {
		only := f.register(t, "Dana", "dana@x.com", "555-0110")
		both := f.register(t, "Erin", "erin@x.com", "555-0111")

		users := f.svc.UserManager()
		_, err := users.AssignRoles(ctx, adminPrincipal(), only.ID, []string{"dispatcher"})
		require.NoError(t, err)
		_, err = users.AssignRoles(ctx, adminPrincipal(), both.ID, []string{"dispatcher", "mod"})
		require.NoError(t, err)

		require.NoError(t, roles.Delete(ctx, role.ID))

		got, err := f.repo.Users().GetByID(ctx, only.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_USER"}, got.RoleNames())

		got, err = f.repo.Users().GetByID(ctx, both.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_MODERATOR"}, got.RoleNames())

		_, err = roles.Get(ctx, role.ID)
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
		assert.Contains(t, f.activity.types(), auth.ActivityEventRoleDeleted)
	})

	list, err := roles.List(ctx)
	require.NoError(t, err)
	names := make([]auth.RoleName, 0, len(list))
	for _, r := range list {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, auth.SystemRoles(), names)
}

func TestUserManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := f.svc.UserManager()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	t.Run("assign roles", func(t *testing.T) {
		got, err := users.AssignRoles(ctx, adminPrincipal(), user.ID, []string{"admin", "ROLE_ADMIN", "user"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_ADMIN", "ROLE_USER"}, got.RoleNames())
		assert.Contains(t, f.activity.types(), auth.ActivityEventRolesAssigned)
	})

	t.Run("assign rejects bad role sets", func(t *testing.T) {
		_, err := users.AssignRoles(ctx, adminPrincipal(), user.ID, nil)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeEmptyRoleSet))
		assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))

		_, err = users.AssignRoles(ctx, adminPrincipal(), user.ID, []string{"  "})
		assert.True(t, auth.HasTextCode(err, auth.TextCodeMalformedRoleName))

		_, err = users.AssignRoles(ctx, adminPrincipal(), user.ID, []string{"ghost"})
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

		_, err = users.AssignRoles(ctx, adminPrincipal(), 4242, []string{"user"})
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_ADMIN", "ROLE_USER"}, got.RoleNames())
	})

	t.Run("verify account", func(t *testing.T) {
		got, err := users.VerifyAccount(ctx, adminPrincipal(), user.ID)
		require.NoError(t, err)
		assert.True(t, got.AccountVerified)

		again, err := users.VerifyAccount(ctx, adminPrincipal(), user.ID)
		require.NoError(t, err)
		assert.True(t, again.AccountVerified)
	})

	t.Run("list pages by id", func(t *testing.T) {
		f.register(t, "Bob", "bob@x.com", "555-0200")
		f.register(t, "Carol", "carol@x.com", "555-0300")

		page, err := users.List(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Users, 2)
		assert.Equal(t, user.ID, page.Users[0].ID)
		assert.NotEmpty(t, page.Users[0].RoleNames())

		page, err = users.List(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page.Users, 1)
		assert.Equal(t, "carol@x.com", page.Users[0].Email)

		page, err = users.List(ctx, 0, 1000)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, auth.MaxUsersPerPage, page.PerPage)
		assert.Len(t, page.Users, 3)
	})

	t.Run("update profile", func(t *testing.T) {
		first, phone := "Alicia", "(555) 0199"
		got, err := users.UpdateProfile(ctx, adminPrincipal(), user.ID, auth.UserProfilePayload{
			FirstName: &first,
			Phone:     &phone,
		})
		require.NoError(t, err)
		assert.Equal(t, "Alicia", got.FirstName)
		assert.Equal(t, "Tester", got.LastName)
		assert.Equal(t, auth.NormalizePhone("555-0199"), got.Phone)
		assert.Contains(t, f.activity.types(), auth.ActivityEventProfileUpdated)

		_, err = f.svc.Login(ctx, "555-0199", "secret-password")
		require.NoError(t, err)

		taken := "555-0200"
		_, err = users.UpdateProfile(ctx, adminPrincipal(), user.ID, auth.UserProfilePayload{Phone: &taken})
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
		assert.True(t, auth.HasTextCode(err, auth.TextCodePhoneTaken))

		empty, short := "", "12"
		_, err = users.UpdateProfile(ctx, adminPrincipal(), user.ID, auth.UserProfilePayload{LastName: &empty})
		assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))
		_, err = users.UpdateProfile(ctx, adminPrincipal(), user.ID, auth.UserProfilePayload{Phone: &short})
		assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))

		_, err = users.UpdateProfile(ctx, adminPrincipal(), 4242, auth.UserProfilePayload{FirstName: &first})
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

		got, err = users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alicia", got.FirstName)
		assert.Equal(t, auth.NormalizePhone("555-0199"), got.Phone)
	})

	t.Run("delete refuses own account", func(t *testing.T) {
		self := auth.Principal{UserID: user.ID, Subject: user.Email, Authorities: []string{"ROLE_ADMIN"}}
		err := users.Delete(ctx, self, user.ID)
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
		assert.True(t, auth.HasTextCode(err, auth.TextCodeSelfDeletion))

		_, err = users.Get(ctx, user.ID)
		require.NoError(t, err)
	})

	t.Run("delete revokes tokens", func(t *testing.T) {
		_, err := f.svc.RequestPasswordReset(ctx, user.Email)
		require.NoError(t, err)
		require.Equal(t, 2, f.countTokens(t, user.ID, ""))

		require.NoError(t, users.Delete(ctx, adminPrincipal(), user.ID))
		assert.Equal(t, 0, f.countTokens(t, user.ID, ""))
		assert.Equal(t, 2, f.countUsers(t))

		_, err = users.Get(ctx, user.ID)
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

		err = users.Delete(ctx, adminPrincipal(), user.ID)
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
	})
}

func TestManagers_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RoleManager().Create(ctx, auth.RolePayload{Name: "late"})
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))

	err = f.svc.PermissionManager().Delete(ctx, 1)
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))

	_, err = f.svc.UserManager().VerifyAccount(ctx, adminPrincipal(), 1)
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))
}
