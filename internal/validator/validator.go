// Package validator decides whether a tokenized command line is permitted by
// its CommandPolicy. Two validator families exist: a generic flag validator
// for single-tool CLIs with a flat flag namespace, and a package-manager
// validator for tools with subcommands, named run-scripts, and global flags
// that precede the subcommand.
package validator

import (
	"strings"
	"sync"

	"github.com/haasonsaas/gatekeeper/internal/policy"
)

// CommandValidator validates the arguments following the root command and
// adjusts the child environment before execution.
type CommandValidator interface {
	// Validate inspects argv[1:] against the policy and returns the decision.
	Validate(args []string, pol *policy.CommandPolicy) policy.ValidationResult

	// AdjustEnvironment returns the environment the child should run with,
	// derived from the base environment and the policy's env settings.
	AdjustEnvironment(baseEnv map[string]string, args []string, pol *policy.CommandPolicy) map[string]string
}

// Registry maps root command names to the validator responsible for them,
// with a per-kind fallback so policies added or reshaped by a transparent
// reload dispatch to the right family without a rebuild. The validator set
// itself is populated once at startup; lookups are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]CommandValidator
	kinds      map[policy.ValidatorKind]CommandValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		validators: map[string]CommandValidator{},
		kinds:      map[policy.ValidatorKind]CommandValidator{},
	}
}

// Register binds a root command to a validator.
func (r *Registry) Register(rootCmd string, v CommandValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[strings.ToLower(strings.TrimSpace(rootCmd))] = v
}

// RegisterKind binds a validator family to a policy kind.
func (r *Registry) RegisterKind(kind policy.ValidatorKind, v CommandValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = v
}

// Lookup returns the validator explicitly registered for a root command, or
// false when none is.
func (r *Registry) Lookup(rootCmd string) (CommandValidator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[strings.ToLower(strings.TrimSpace(rootCmd))]
	return v, ok
}

// Resolve returns the validator for a root command and its current policy.
// An explicit per-root registration wins; otherwise the policy's kind picks
// the family. Resolving from the policy seen at lookup time keeps dispatch
// consistent with transparent reloads: a policy whose kind changed on disk
// is validated by its new family, never the one its old shape implied.
func (r *Registry) Resolve(rootCmd string, pol *policy.CommandPolicy) (CommandValidator, bool) {
	if v, ok := r.Lookup(rootCmd); ok {
		return v, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.kinds[pol.Kind()]
	return v, ok
}

// BuildRegistry creates a registry with the two validator families bound by
// kind. Per-root dispatch happens at each lookup from the policy's declared
// or inferred kind, so the registry never goes stale against the store.
func BuildRegistry(resolver PathResolver) *Registry {
	registry := NewRegistry()
	registry.RegisterKind(policy.KindFlags, NewGenericFlagValidator(resolver))
	registry.RegisterKind(policy.KindPackageManager, NewPackageManagerValidator(resolver))
	return registry
}

// PathResolver constrains positional path arguments to the workspace root.
type PathResolver interface {
	Resolve(path string) (string, error)
}

// isFlagShaped reports whether the token looks like a flag. The bare
// end-of-options marker is not a flag.
func isFlagShaped(token string) bool {
	return token != "-" && token != "--" && strings.HasPrefix(token, "-")
}

// flagName strips a trailing "=value" portion, returning the flag key and
// whether a value was attached.
func flagName(token string) (string, string, bool) {
	name, value, found := strings.Cut(token, "=")
	return name, value, found
}

// adjustEnvironment layers the policy's environment settings over the base:
// safe_env entries fill gaps only, env_overrides always win.
func adjustEnvironment(baseEnv map[string]string, pol *policy.CommandPolicy) map[string]string {
	merged := make(map[string]string, len(baseEnv)+len(pol.SafeEnv)+len(pol.EnvOverrides))
	for k, v := range baseEnv {
		merged[k] = v
	}
	for k, v := range pol.SafeEnv {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	for k, v := range pol.EnvOverrides {
		merged[k] = v
	}
	return merged
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
