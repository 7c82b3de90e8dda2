package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ayash-Bera/arena/internal/database"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteManager(t *testing.T) *database.Manager {
	t.Helper()
	manager, err := database.NewManager(&database.Config{
		Driver:      "sqlite",
		DatabaseURL: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestRunMigrations_AppliesRepositoryMigrationsOnce(t *testing.T) {
	manager := newSQLiteManager(t)
	runner := NewRunner(manager, logrus.New())
	dir := filepath.Join("..", "..", "migrations")

	require.NoError(t, runner.RunMigrations(dir))

	var count int64
	require.NoError(t, manager.DB.Model(&SchemaMigration{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "postgres-only files are skipped on sqlite")

	pending, err := runner.Pending(dir)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, runner.RunMigrations(dir))
	assert.True(t, manager.DB.Migrator().HasIndex("learnings", "idx_learnings_state_scope_agent"))
}

func TestPending_OrdersAndFiltersByDialect(t *testing.T) {
	manager := newSQLiteManager(t)
	runner := NewRunner(manager, logrus.New())
	require.NoError(t, manager.DB.AutoMigrate(&SchemaMigration{}))

	dir := t.TempDir()
	for name, body := range map[string]string{
		"002_second.sql":        "CREATE TABLE b (id INTEGER);",
		"001_first.sql":         "CREATE TABLE a (id INTEGER);",
		"003_view.postgres.sql": "CREATE OR REPLACE VIEW v AS SELECT 1;",
		"004_only.sqlite.sql":   "CREATE TABLE c (id INTEGER);",
		"notes.txt":             "ignored",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	pending, err := runner.Pending(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.sql", "002_second.sql", "004_only.sqlite.sql"}, pending)
}

func TestSplitSQLStatements(t *testing.T) {
	runner := &Runner{}
	sql := "-- header\nCREATE INDEX a ON t (x);\n\n  -- note\nCREATE INDEX b\n  ON t (y);\n"
	assert.Equal(t, []string{"CREATE INDEX a ON t (x)", "CREATE INDEX b ON t (y)"}, runner.splitSQLStatements(sql))
}
