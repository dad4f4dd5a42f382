package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("ENV", "test")
	t.Setenv("TEST_DATABASE_ENGINE", "sqlite3")
	t.Setenv("TEST_PROGRESS_SLUGMAXRETRIES", "7")
	t.Setenv("TEST_SERVER_SHUTDOWNTIMEOUT", "10s")

	dotEnv := "TEST_APPNAME=Academia\nTEST_DEFAULTFROMEMAIL=Masomo Team <team@masomo.cd>\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.test"), []byte(dotEnv), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("TEST_APPNAME")
		_ = os.Unsetenv("TEST_DEFAULTFROMEMAIL")
	})

	conf := NewConfig()
	assert.Equal(t, "TEST", conf.Env)
	assert.True(t, conf.Debug)
	assert.True(t, conf.TestMode)
	assert.Equal(t, "Academia", conf.AppName)
	assert.Equal(t, EngineSqlite3, conf.Database.Engine)
	assert.Equal(t, 7, conf.Progress.SlugMaxRetries)
	assert.Equal(t, 10*time.Second, conf.Server.ShutdownTimeout)
	assert.Equal(t, 7*24*time.Hour, conf.Server.JWTExpirationDelta)
	assert.Equal(t, "localhost:5432", conf.Database.Address())

	from := conf.DefaultFromEmail()
	assert.Equal(t, "Masomo Team", from.Name)
	assert.Equal(t, "team@masomo.cd", from.Address)
}

func TestConfig_DefaultFromEmail(t *testing.T) {
	tests := []struct {
		raw      string
		wantName string
		wantAddr string
	}{
		{raw: "noreply@localhost", wantName: "Masomo", wantAddr: "noreply@localhost"},
		{raw: "Courses <courses@masomo.cd>", wantName: "Courses", wantAddr: "courses@masomo.cd"},
		{raw: "not an address", wantName: "Masomo", wantAddr: "not an address"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			conf := &Config{AppName: "Masomo", defaultFromEmail: tt.raw}
			got := conf.DefaultFromEmail()
			if got.Name != tt.wantName || got.Address != tt.wantAddr {
				t.Errorf("DefaultFromEmail() = %v, want %s <%s>", got, tt.wantName, tt.wantAddr)
			}
		})
	}
}

func TestDBOrdering_String(t *testing.T) {
	assert.Equal(t, "title ASC", DBOrdering{Field: "title", Ascending: true}.String())
	assert.Equal(t, "created_at DESC", DBOrdering{Field: "created_at"}.String())
}
