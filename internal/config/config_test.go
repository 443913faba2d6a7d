package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"falconeye/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "falconeye.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "servers: []\n"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "falconeye.db"), cfg.DBPath)
	assert.Equal(t, time.Minute, cfg.CollectionInterval)
	assert.Equal(t, 25*time.Second, cfg.SSHTimeout)
	assert.Equal(t, 30*time.Minute, cfg.AlertCooldown)
	assert.Equal(t, 0.8, cfg.CoverageFraction)
	assert.Equal(t, 1440, cfg.RetentionCap)
	assert.Equal(t, PolicySustained, cfg.TriggerPolicy)
	assert.Equal(t, 587, cfg.SMTP.Port)
}

func TestLoadParsesFullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
db_path: /var/lib/falconeye/stats.db
collection_interval: 30s
ssh_timeout: 10s
alert_cooldown: 1h
coverage_fraction: 0.5
retention_cap: 720
trigger_policy: average
smtp:
  host: mail.example.com
  port: 465
  user: alerts
  password: hunter2
  from: falconeye@example.com
  use_ssl: true
servers:
  - name: web-01
    host: web-01.example.com
    user: monitor
    key_path: /etc/falconeye/id_ed25519
  - name: db-01
    host: 10.0.3.7
    port: 2222
    user: monitor
    password: secret
    jump_ref: web-01
    disk_path: /var/lib/postgresql
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/falconeye/stats.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.CollectionInterval)
	assert.Equal(t, time.Hour, cfg.AlertCooldown)
	assert.Equal(t, PolicyAverage, cfg.TriggerPolicy)
	assert.True(t, cfg.SMTP.UseSSL)
	assert.Equal(t, 465, cfg.SMTP.Port)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "web-01", cfg.Servers[1].JumpRef)
	assert.Equal(t, "/var/lib/postgresql", cfg.Servers[1].DiskPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"zero interval", "collection_interval: 0s\n", "collection_interval"},
		{"coverage above one", "coverage_fraction: 1.5\n", "coverage_fraction"},
		{"zero retention", "retention_cap: 0\n", "retention_cap"},
		{"unknown policy", "trigger_policy: sometimes\n", "trigger_policy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBuildRegistryResolvesTargets(t *testing.T) {
	cfg := Config{Servers: []ServerConfig{
		{Name: "web-01", Host: "web-01.example.com", User: "monitor", Password: "x"},
		{Host: "db-01.example.com", User: "monitor", Password: "x", Port: 2222},
	}}
	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)

	targets := reg.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, 22, targets[0].Port)

	// A nameless entry falls back to its host.
	unnamed, ok := reg.Lookup("db-01.example.com")
	require.True(t, ok)
	assert.Equal(t, 2222, unnamed.Port)
	assert.Equal(t, "db-01.example.com:2222", unnamed.Addr())
}

func TestBuildRegistryRejectsDuplicateNames(t *testing.T) {
	cfg := Config{Servers: []ServerConfig{
		{Name: "web", Host: "a.example.com", Password: "x"},
		{Name: "web", Host: "b.example.com", Password: "x"},
	}}
	_, err := cfg.BuildRegistry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate server name "web"`)
}

func TestBuildRegistryRejectsReservedLocalName(t *testing.T) {
	cfg := Config{Servers: []ServerConfig{
		{Name: models.LocalServerName, Host: "sneaky.example.com", Password: "x"},
	}}
	_, err := cfg.BuildRegistry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestBuildRegistryRejectsMisnamedLocalEntry(t *testing.T) {
	cfg := Config{Servers: []ServerConfig{
		{Name: "this-host", IsLocal: true, DiskPath: "/srv"},
	}}
	_, err := cfg.BuildRegistry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `local server entry must be named "local"`)
}

func TestBuildRegistryAllowsExplicitLocalEntry(t *testing.T) {
	cfg := Config{Servers: []ServerConfig{
		{Name: models.LocalServerName, IsLocal: true, DiskPath: "/srv"},
	}}
	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)

	local, ok := reg.Lookup(models.LocalServerName)
	require.True(t, ok)
	assert.True(t, local.IsLocal)
	assert.Equal(t, "/srv", local.DiskMount())
}

func TestBuildRegistryRejectsBadJumpRefs(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		cfg := Config{Servers: []ServerConfig{
			{Name: "web", Host: "a.example.com", Password: "x", JumpRef: "bastion"},
		}}
		_, err := cfg.BuildRegistry()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown jump host "bastion"`)
	})
	t.Run("self reference", func(t *testing.T) {
		cfg := Config{Servers: []ServerConfig{
			{Name: "web", Host: "a.example.com", Password: "x", JumpRef: "web"},
		}}
		_, err := cfg.BuildRegistry()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "references itself")
	})
}

func TestBuildRegistryRejectsMissingHost(t *testing.T) {
	cfg := Config{Servers: []ServerConfig{{Name: "ghost", Password: "x"}}}
	_, err := cfg.BuildRegistry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no host")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), expandHome("~/.ssh/id_ed25519"))
	assert.Equal(t, "/etc/keys/id", expandHome("/etc/keys/id"))
	assert.Equal(t, "", expandHome(""))
}
