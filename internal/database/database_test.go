package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"serial-service/internal/config"
)

func sqliteConfig(t *testing.T) *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Enabled:     true,
		Driver:      DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "nested", "journal.db"),
		MaxLifetime: time.Minute,
	}
}

func TestNewConnection_SQLite(t *testing.T) {
	db, err := NewConnection(sqliteConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.Driver())
	assert.NoError(t, db.HealthCheck())
	assert.Equal(t, 1, db.GetStats().MaxOpenConnections)
	assert.Equal(t, "?", db.Placeholder(3))
}

func TestNewConnection_UnsupportedDriver(t *testing.T) {
	_, err := NewConnection(&config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestPlaceholder_Postgres(t *testing.T) {
	db := &DB{driver: DriverPostgres}
	assert.Equal(t, "$1", db.Placeholder(1))
	assert.Equal(t, "$12", db.Placeholder(12))
}

func TestMigrator_UpDown(t *testing.T) {
	db, err := NewConnection(sqliteConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db, zaptest.NewLogger(t))

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "second up is a no-op")

	version, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	_, err = db.Exec(`INSERT INTO command_journal (id, command, status, created_at) VALUES ('x', 'PING', 'success', CURRENT_TIMESTAMP)`)
	require.NoError(t, err, "shared pool stays open after migrating")

	require.NoError(t, m.Down())
	_, err = db.Exec(`SELECT 1 FROM command_journal`)
	assert.Error(t, err)
}
