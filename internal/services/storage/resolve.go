package storage

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/kevinburke/ssh_config"
)

var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// ResolveHost turns a target host ("alias" or "user@alias") into connection
// parameters using the ssh client configuration. configFile overrides the
// user's ~/.ssh/config when set.
func ResolveHost(target, configFile string) (models.RemoteHost, error) {
	username, alias, found := strings.Cut(target, "@")
	if !found {
		alias, username = username, ""
	}
	if alias == "" {
		return models.RemoteHost{}, models.ConfigError("target host %q has no host name", target)
	}

	get, err := lookup(configFile)
	if err != nil {
		return models.RemoteHost{}, err
	}

	host := models.RemoteHost{
		Alias:    alias,
		HostName: get(alias, "HostName"),
		Username: username,
		Port:     22,
	}
	if host.HostName == "" {
		host.HostName = alias
	}

	if p := get(alias, "Port"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return models.RemoteHost{}, models.ConfigError("invalid port %q for host %s", p, alias)
		}
		host.Port = port
	}

	if host.Username == "" {
		host.Username = get(alias, "User")
	}
	if host.Username == "" {
		if u, err := user.Current(); err == nil {
			host.Username = u.Username
		}
	}

	host.KeyPath = identityFile(get(alias, "IdentityFile"))
	return host, nil
}

func lookup(configFile string) (func(alias, key string) string, error) {
	if configFile == "" {
		return func(alias, key string) string {
			v, err := ssh_config.DefaultUserSettings.GetStrict(alias, key)
			if err != nil {
				return ""
			}
			return v
		}, nil
	}

	f, err := os.Open(expandHome(configFile))
	if err != nil {
		return nil, models.ConfigError("opening ssh config %s: %v", configFile, err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, models.ConfigError("parsing ssh config %s: %v", configFile, err)
	}
	return func(alias, key string) string {
		v, err := cfg.Get(alias, key)
		if err != nil {
			return ""
		}
		return v
	}, nil
}

// identityFile returns the configured key, or the first default key that exists.
func identityFile(configured string) string {
	if configured != "" && configured != ssh_config.Default("IdentityFile") {
		return expandHome(configured)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range defaultIdentities {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
