package steam

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Config struct {
	// Root is the Steam install directory. Empty means the first default root
	// that has a steamapps directory.
	Root       string        `yaml:"root"`
	APIKey     string        `yaml:"api_key"`
	APIBaseURL string        `yaml:"api_base_url"`
	ProfileTTL time.Duration `yaml:"profile_ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	// LoginUsers overrides the loginusers.vdf candidates.
	LoginUsers []string `yaml:"login_users"`
}

const defaultAPIBaseURL = "https://api.steampowered.com"

func (c Config) withDefaults() Config {
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.ProfileTTL <= 0 {
		c.ProfileTTL = 10 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// DefaultRoots lists where Steam usually lives on this OS.
func DefaultRoots() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files (x86)\Steam`,
			`C:\Program Files\Steam`,
			`D:\Steam`,
			`E:\Steam`,
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		return []string{filepath.Join(home, "Library", "Application Support", "Steam")}
	default:
		home, _ := os.UserHomeDir()
		return []string{
			filepath.Join(home, ".steam", "steam"),
			filepath.Join(home, ".local", "share", "Steam"),
		}
	}
}

func (c Config) roots() []string {
	if c.Root != "" {
		return []string{c.Root}
	}
	return DefaultRoots()
}

func (c Config) loginUsersCandidates() []string {
	if len(c.LoginUsers) > 0 {
		return c.LoginUsers
	}
	roots := c.roots()
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		out = append(out, filepath.Join(root, "config", "loginusers.vdf"))
	}
	return out
}
