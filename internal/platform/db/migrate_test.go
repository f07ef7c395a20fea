package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := MigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.Equal(t, "0001_init.sql", files[0])
}

func TestInitMigrationGuardsTransitionRecords(t *testing.T) {
	content, err := fs.ReadFile(migrationsFS, "migrations/0001_init.sql")
	require.NoError(t, err)
	sql := string(content)
	require.True(t, strings.Contains(sql, "BEFORE UPDATE OR DELETE ON transition_records"))
	require.True(t, strings.Contains(sql, "request_key TEXT UNIQUE"))
	require.True(t, strings.Contains(sql, "CHECK (from_role_id <> to_role_id)"))
}
