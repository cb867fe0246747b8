// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package xdg locates authd files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName        = "authd"
	configFileName = "authd.yaml"
)

// ConfigDir returns the authd config directory.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_NO_HOME").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// SystemConfigFile is consulted when the user has no config file.
const SystemConfigFile = "/etc/authd/" + configFileName

// FindConfigFile returns the first existing config file among the user
// config directory and SystemConfigFile, or "" when neither exists.
func FindConfigFile() (string, error) {
	candidates := []string{}
	if dir, err := ConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, configFileName))
	}
	candidates = append(candidates, SystemConfigFile)

	for _, path := range candidates {
		info, err := os.Stat(path)
		switch {
		case err == nil && !info.IsDir():
			return path, nil
		case err == nil, errors.Is(err, fs.ErrNotExist):
			continue
		default:
			return "", oops.Code("XDG_STAT_FAILED").With("path", path).Wrap(err)
		}
	}
	return "", nil
}
