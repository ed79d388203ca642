// Package config resolves gatekeeper configuration paths.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultPolicyName is the policy document filename under the config dir.
	DefaultPolicyName = "policies.yaml"

	// PolicyFileEnvVar overrides the policy document location.
	PolicyFileEnvVar = "GATEKEEPER_POLICY_FILE"
)

// ConfigDir returns the base directory for gatekeeper configuration.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return filepath.Join(home, ".gatekeeper")
}

// DefaultPolicyPath returns the default policy document path.
func DefaultPolicyPath() string {
	return filepath.Join(ConfigDir(), DefaultPolicyName)
}

// ResolvePolicyPath determines the policy document path based on:
// 1. Explicit path provided by the caller
// 2. GATEKEEPER_POLICY_FILE environment variable
// 3. Default path under the configuration directory
func ResolvePolicyPath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(PolicyFileEnvVar)); env != "" {
		return env
	}
	return DefaultPolicyPath()
}
