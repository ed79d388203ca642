// Package workspace resolves positional path arguments against the
// workspace root and rejects anything that escapes it.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RootEnvVar names the environment variable that carries the workspace root
// used for path containment checks.
const RootEnvVar = "GATEKEEPER_WORKSPACE"

// ErrPathEscapesRoot is returned when a resolved path lands outside the root.
var ErrPathEscapesRoot = errors.New("path escapes workspace root")

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// FromEnv builds a resolver rooted at $GATEKEEPER_WORKSPACE, falling back to
// the current directory when the variable is unset.
func FromEnv() Resolver {
	return Resolver{Root: strings.TrimSpace(os.Getenv(RootEnvVar))}
}

// Resolve returns an absolute, cleaned path contained in the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, path)
	}
	return targetAbs, nil
}

// Contains reports whether the path stays inside the workspace root.
func (r Resolver) Contains(path string) bool {
	_, err := r.Resolve(path)
	return err == nil
}
