package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/kevinburke/ssh_config"

	"falconeye/internal/models"
)

// userSSHConfig lazily loads ~/.ssh/config once per process. A missing or
// unreadable file is treated as empty.
var userSSHConfig = sync.OnceValue(func() *ssh_config.Config {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	f, err := os.Open(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		return nil
	}
	defer f.Close()
	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil
	}
	return cfg
})

// applySSHConfigDefaults back-fills user, port and key path for a target
// from the operator's ~/.ssh/config, keyed by the target's host. Explicit
// config file values always win; password auth is never overridden by a
// discovered identity file.
func applySSHConfigDefaults(t *models.ServerTarget) {
	cfg := userSSHConfig()
	if cfg == nil || t.Host == "" {
		return
	}
	if t.User == "" {
		if user, err := cfg.Get(t.Host, "User"); err == nil && user != "" {
			t.User = user
		}
	}
	if t.Port == 0 {
		if port, err := cfg.Get(t.Host, "Port"); err == nil && port != "" {
			if n, convErr := strconv.Atoi(port); convErr == nil {
				t.Port = n
			}
		}
	}
	if t.KeyPath == "" && t.Password == "" {
		if identity, err := cfg.Get(t.Host, "IdentityFile"); err == nil && identity != "" {
			t.KeyPath = expandHome(identity)
		}
	}
}
