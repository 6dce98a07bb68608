package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresRoundTrip(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))

	expect := func(version int64, applied, pending int) {
		t.Helper()
		state, err := store.MigrationStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, version, state.Version)
		require.Equal(t, applied, state.Applied)
		require.Len(t, state.Pending, pending)
		require.Empty(t, state.Drifted)
	}
	expect(0, 0, 4)

	require.NoError(t, store.MigrateUp(ctx, 2))
	expect(2, 2, 2)

	require.NoError(t, store.MigrateUp(ctx, 0))
	expect(4, 4, 0)

	// Повторный up ничего не меняет.
	require.NoError(t, store.MigrateUp(ctx, 0))
	expect(4, 4, 0)

	require.NoError(t, store.MigrateDown(ctx, 0))
	expect(3, 3, 1)

	require.NoError(t, store.MigrateDown(ctx, 3))
	expect(0, 0, 4)
	require.NoError(t, store.MigrateDown(ctx, 1), "down on empty schema is a no-op")
}

func TestMigrator_DetectsChangedFiles(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'stale' WHERE version = 2`)
	require.NoError(t, err)
	t.Cleanup(func() {
		all, err := loadMigrations(migrationsFS)
		if err != nil {
			return
		}
		_, _ = store.DB().ExecContext(context.Background(), `UPDATE schema_migrations SET checksum = $1 WHERE version = 2`, all[1].Checksum)
	})

	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0002_products"}, state.Drifted)
}

func TestMigrator_Guards(t *testing.T) {
	var nilStore *Store
	ctx := context.Background()

	require.ErrorIs(t, nilStore.MigrateUp(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, nilStore.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := nilStore.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)

	store := &Store{db: nil}
	require.ErrorIs(t, store.migrate(ctx, migrationUp, 0), errStoreNotInitialized)

	raw := openRawPostgresStoreForIntegrationTest(t)
	require.ErrorContains(t, raw.migrate(ctx, migrationDirection("sideways"), 0), "unsupported migration direction")
}
