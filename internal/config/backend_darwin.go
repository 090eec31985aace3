//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.thumbforge.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "thumbforge-data"
	}
	return filepath.Join(home, "Library", "Application Support", "thumbforge")
}

func apiKeyHint() string {
	return " or the login keychain (service thumbforge, account api_token)"
}

// userDefaults is a Backend over the macOS user defaults database.
type userDefaults string

func newPlatformBackend() Backend {
	return userDefaults(defaultsDomain)
}

func (d userDefaults) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", append([]string{args[0], string(d)}, args[1:]...)...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (d userDefaults) GetString(key string) (string, bool, error) {
	out, err := d.run("read", key)
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, out)
	}
	return out, true, nil
}

func (d userDefaults) GetInt(key string) (int, bool, error) {
	s, ok, err := d.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func (d userDefaults) SetString(key, val string) error {
	_, err := d.run("write", key, "-string", val)
	return err
}

func (d userDefaults) SetInt(key string, val int) error {
	_, err := d.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (d userDefaults) Delete(key string) error {
	_, err := d.run("delete", key)
	return err
}
