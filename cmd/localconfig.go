// Package cmd locates a user's local teamkeep config directory, the same
// one-function-per-concern shape as metalocker's own cmd package, narrowed
// to what a single-binary CLI needs: a place to keep a boltstore file.
package cmd

import (
	"os"
	"os/user"
	"path"
	"path/filepath"
)

var configDirName = ".teamkeep"

// SetConfigDirName overrides the config directory name (tests use this to
// avoid touching a real user's home directory).
func SetConfigDirName(name string) {
	configDirName = name
}

// ConfigDir returns the user's teamkeep config directory, creating it if
// absent.
func ConfigDir() (string, error) {
	currentUser, err := user.Current()
	if err != nil {
		return "", err
	}
	dir := path.Join(currentUser.HomeDir, configDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// StorePath returns the path of the bolt file backing every team this user
// has created or joined on this machine.
func StorePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "teams.bolt"), nil
}
