package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables overriding the default locations.
const (
	EnvConfigPath = "CHARA_CONFIG_PATH"
	EnvHome       = "CHARA_HOME"
)

// GetDefaults returns the config file path, the base directory and the log
// directory. An explicit CHARA_CONFIG_PATH or CHARA_HOME wins; otherwise the
// XDG base directories are used, falling back to ~/.config and
// ~/.local/share.
func GetDefaults() (map[string]string, error) {
	configPath, err := locate(EnvConfigPath, "XDG_CONFIG_HOME", ".config", "chara.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := locate(EnvHome, "XDG_DATA_HOME", filepath.Join(".local", "share"), "chara")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func locate(override, xdgVar, homeRel, name string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdgVar); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, homeRel, name), nil
}
