package util

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppConfigDir = ".config/federatedcode"
)

// GetConfigDir returns the federatedcode config directory path
// (~/.config/federatedcode/) and creates it if it doesn't exist
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)

	// Create directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// ResolveFilePath resolves a file path with the following priority:
// 1. Local working directory (e.g., ./federatedcode.db)
// 2. User config directory (e.g., ~/.config/federatedcode/federatedcode.db)
// 3. Returns the user config directory path if neither exists (for creation)
func ResolveFilePath(filename string) string {
	// Check local directory first
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	// Try user config directory
	configDir, err := GetConfigDir()
	if err != nil {
		// Fallback to local directory if we can't get config dir
		return filename
	}

	userPath := filepath.Join(configDir, filename)

	// If file exists in user dir, return that path
	if _, err := os.Stat(userPath); err == nil {
		return userPath
	}

	// Neither exists, return user config path (for creation)
	return userPath
}

// RepoDirName derives a stable workspace directory name for a git clone
// from its remote URL.
func RepoDirName(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return fmt.Sprintf("%x", sum[:8])
}
