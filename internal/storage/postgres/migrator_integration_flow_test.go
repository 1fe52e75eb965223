package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))

	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationState{Version: 0, Applied: 0, Pending: 4}, state)

	require.NoError(t, store.MigrateUp(ctx, 2))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationState{Version: 2, Applied: 2, Pending: 2}, state)

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.NoError(t, store.MigrateUp(ctx, 0), "repeated up must be a no-op")
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationState{Version: 4, Applied: 4, Pending: 0}, state)

	require.NoError(t, store.MigrateDown(ctx, 0))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), state.Version)

	require.NoError(t, store.MigrateDown(ctx, 100))
	require.NoError(t, store.MigrateDown(ctx, 1), "down on empty schema must be a no-op")

	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_RefusesEditedMigration(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err := store.DB().ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'edited' WHERE version = 1`)
	require.NoError(t, err)
	t.Cleanup(func() {
		known, err := loadMigrationsFromFS(migrationsFS)
		if err == nil {
			_, _ = store.DB().ExecContext(context.Background(),
				`UPDATE schema_migrations SET checksum = $1 WHERE version = 1`, known[0].Checksum)
		}
	})

	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, state.Drifted)
	require.ErrorIs(t, store.MigrateUp(ctx, 0), ErrMigrationDrift)
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.ErrorIs(t, nilStore.MigrateUp(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, nilStore.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := nilStore.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)

	store := openRawPostgresStoreForIntegrationTest(t)
	require.Error(t, store.migrate(ctx, migrationDirection("sideways"), 0))
}
