package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/d?sslmode=disable", driverURL("postgres://u:p@h:5432/d?sslmode=disable"))
	assert.Equal(t, "pgx5://u@h/d", driverURL("postgresql://u@h/d"))
	assert.Equal(t, "pgx5://already", driverURL("pgx5://already"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSettlementSchemaTables(t *testing.T) {
	raw, err := fs.ReadFile(migrationFS, "migrations/000002_settlement.up.sql")
	require.NoError(t, err)
	sql := string(raw)

	for _, table := range []string{
		"obligations", "obligation_approvals", "batches", "batch_obligations",
		"payments", "payment_obligations", "notifications",
	} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}
