package app

import (
	"fmt"
	"os"
	"path/filepath"

	"dsync-go/internal/config"
	"dsync-go/internal/database"
)

// Environment variables that move dsync's files.
const (
	EnvConfigPath = "DSYNC_CONFIG_PATH" // config file
	EnvHome       = "DSYNC_HOME"        // run history, logs and shared version stores
)

// GetDefaults returns where dsync keeps its files when nothing is configured:
//
//	config_path   $DSYNC_CONFIG_PATH, else $XDG_CONFIG_HOME/dsync.toml, else ~/.config/dsync.toml
//	base_dir      $DSYNC_HOME, else $XDG_DATA_HOME/dsync, else ~/.local/share/dsync
//	log_dir       dsync.log and its rotated copies
//	data_dir      history.db and its backup
//	history_path  the run history database
//
// The directories under base_dir follow config.NewConfig.
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	layout := config.NewConfig(baseDir)
	return map[string]string{
		"config_path":  configPath,
		"base_dir":     baseDir,
		"log_dir":      layout.LogDir,
		"data_dir":     layout.Database.DataDir,
		"history_path": filepath.Join(layout.Database.DataDir, database.HistoryFileName),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}
	dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dsync.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}
	dir, err := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dsync"), nil
}

// xdgDir returns $env when it is an absolute path, else ~/fallback.
// Relative XDG values are invalid and ignored.
func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); filepath.IsAbs(dir) {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, fallback), nil
}
