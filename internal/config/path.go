package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigPath returns the first existing config file among the standard
// locations, or "" when there is none. TUBED_CONFIG wins when set.
func DefaultConfigPath() string {
	if p := os.Getenv("TUBED_CONFIG"); p != "" {
		return p
	}
	for _, p := range candidatePaths() {
		if isFile(p) {
			return p
		}
	}
	return ""
}

func candidatePaths() []string {
	var out []string
	// XDG (Linux) override
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		out = append(out, filepath.Join(xdg, "tubed", "tubed.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = append(out, filepath.Join(home, ".config", "tubed", "tubed.yaml"))
	}
	return append(out, "/etc/tubed/tubed.yaml", "/etc/tubed/tubed.json")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
