package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/o2o/erpsync/internal/infrastructure/config"
)

// newSQLiteDB opens a file backed SQLite database in a temp dir.
// WAL and a busy timeout let concurrent writers queue instead of failing.
func newSQLiteDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "erpsync.db")
	db, err := Open(sqlite.Open(path+"?_busy_timeout=10000&_journal_mode=WAL"), nil)
	require.NoError(t, err)

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDialector(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		want    string
		wantErr bool
	}{
		{name: "mysql", driver: config.DriverMySQL, want: "mysql"},
		{name: "empty defaults to mysql", driver: "", want: "mysql"},
		{name: "postgres", driver: config.DriverPostgres, want: "postgres"},
		{name: "sqlite", driver: config.DriverSQLite, want: "sqlite"},
		{name: "unsupported", driver: "oracle", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.DatabaseConfig{
				Driver: tt.driver,
				Host:   "127.0.0.1",
				Port:   3306,
				User:   "erp",
				DBName: "ProcureUAT",
				Path:   "test.db",
			}
			d, err := Dialector(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	db := newSQLiteDB(t)

	assert.Equal(t, "sqlite", db.Driver())
	require.NoError(t, db.Ping(context.Background()))

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 8, stats.MaxOpenConnections)
	assert.Equal(t, stats.OpenConnections, stats.InUse+stats.Idle)
}

func TestNewDatabase(t *testing.T) {
	t.Run("connects to sqlite and applies pool settings", func(t *testing.T) {
		cfg := &config.DatabaseConfig{
			Driver:          config.DriverSQLite,
			Path:            filepath.Join(t.TempDir(), "app.db"),
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5,
			ConnMaxIdleTime: 1,
		}

		db, err := NewDatabase(context.Background(), cfg)
		require.NoError(t, err)
		defer db.Close()

		stats, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 4, stats.MaxOpenConnections)
	})

	t.Run("rejects unsupported driver", func(t *testing.T) {
		_, err := NewDatabase(context.Background(), &config.DatabaseConfig{Driver: "oracle"})
		assert.ErrorContains(t, err, "unsupported database driver")
	})

	t.Run("unreachable mysql surfaces as store unavailable", func(t *testing.T) {
		cfg := &config.DatabaseConfig{
			Driver:         config.DriverMySQL,
			Host:           "127.0.0.1",
			Port:           1,
			User:           "erp",
			Password:       "secret",
			DBName:         "ProcureUAT",
			ConnectTimeout: 200 * time.Millisecond,
		}

		_, err := NewDatabase(context.Background(), cfg, WithConnectBackOff(func() backoff.BackOff {
			return &backoff.StopBackOff{}
		}))
		require.Error(t, err)
		assert.True(t, StoreError(err), "got %v", err)
	})
}
