package config

import (
	"os"
	"path/filepath"
)

// Backend is a platform config store holding the non-secret keys. macOS uses
// the user defaults database; other platforms use a YAML file.
type Backend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// xdgPath joins elem under the directory named by the XDG variable env, or
// under fallback relative to the home directory when env is unset.
func xdgPath(env, fallback string, elem ...string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(append([]string{"."}, elem...)...)
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(append([]string{dir}, elem...)...)
}
