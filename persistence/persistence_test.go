package persistence_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-workorder-auth"
	"github.com/goliatone/go-workorder-auth/persistence"
)

func memoryDSN(t *testing.T) string {
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
}

func TestOpen_SQLiteEnablesForeignKeys(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.Open(ctx, persistence.Options{
		Dialect: persistence.DialectSQLite,
		DSN:     memoryDSN(t),
	})
	require.NoError(t, err)
	defer db.Close()

	var enabled int
	require.NoError(t, db.NewRaw("PRAGMA foreign_keys").Scan(ctx, &enabled))
	assert.Equal(t, 1, enabled)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestOpen_SQLiteEnforcesForeignKeysOnEveryQuery(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.Open(ctx, persistence.Options{
		Dialect:      persistence.DialectSQLite,
		DSN:          memoryDSN(t),
		MaxOpenConns: 8,
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, auth.Migrate(ctx, db, nil))

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = db.NewInsert().
				Model(&auth.UserRoleAssignment{UserID: int64(1000 + i), RoleID: 1}).
				Exec(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Error(t, err)
	}

	count, err := db.NewSelect().Model((*auth.UserRoleAssignment)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpen_MigratesSeededSchema(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.Open(ctx, persistence.Options{DSN: memoryDSN(t)})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, auth.Migrate(ctx, db, nil))
	// second run is a no-op
	require.NoError(t, auth.Migrate(ctx, db, nil))

	repo := auth.NewRepositoryManager(db)
	roles, err := repo.Roles().List(ctx)
	require.NoError(t, err)

	names := make([]auth.RoleName, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	assert.ElementsMatch(t, auth.SystemRoles(), names)
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := persistence.Open(context.Background(), persistence.Options{Dialect: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))
}
