package validator

import (
	"fmt"
	"sort"
	"time"

	"github.com/haasonsaas/gatekeeper/internal/policy"
	"github.com/haasonsaas/gatekeeper/internal/workspace"
)

// PackageManagerValidator handles tools with subcommands, named run-scripts,
// and global flags that may precede the subcommand (npm, pnpm, yarn and the
// like). Token evaluation proceeds in phases:
//
//  1. Consume recognized global flags, each optionally with a value in
//     space or "=" form. A required value that is missing or flag-shaped
//     denies the command.
//  2. If nothing but root flags remains, validate as a bare invocation
//     (e.g. "tool --version").
//  3. Dispatch on the subcommand: denied, unknown, and disabled names all
//     reject.
//  4. For a run-style subcommand, resolve the script name — the token after
//     an explicit end-of-options marker is taken as the script name even if
//     it is flag-shaped. The resolved script spec, never a same-named
//     top-level subcommand spec, governs the remaining tokens.
//  5. Evaluate remaining flags and positionals against the active spec.
type PackageManagerValidator struct {
	resolver PathResolver
}

// NewPackageManagerValidator creates the validator. A nil resolver defaults
// to the workspace root from the environment.
func NewPackageManagerValidator(resolver PathResolver) *PackageManagerValidator {
	if resolver == nil {
		resolver = workspace.FromEnv()
	}
	return &PackageManagerValidator{resolver: resolver}
}

// Validate applies the phased algorithm described on the type.
func (v *PackageManagerValidator) Validate(args []string, pol *policy.CommandPolicy) policy.ValidationResult {
	i := 0

	// Phase 1: global flags before the subcommand. Any number of recognized
	// global flags may chain; the first non-flag token ends the phase.
	for i < len(args) {
		token := args[i]
		if !isFlagShaped(token) {
			break
		}
		name, _, hasValue := flagName(token)
		takesValue, isGlobal := pol.GlobalFlagsBeforeSubcommand[name]
		if !isGlobal {
			// An unknown root-level flag is not forwarded to subcommand
			// parsing; the only escape hatch is a pure root-flag invocation.
			if allRootFlags(args[i:], pol) {
				return rootFlagResult(pol)
			}
			if !contains(pol.RootFlags, name) {
				return policy.Deny("unrecognized root flag: %s", token)
			}
			return policy.Deny("root flag may not precede a subcommand: %s", token)
		}
		if takesValue {
			if hasValue {
				i++
				continue
			}
			if i+1 >= len(args) || isFlagShaped(args[i+1]) {
				return policy.Deny("missing value for global flag: %s", name)
			}
			i += 2
			continue
		}
		if hasValue {
			return policy.Deny("global flag does not take a value: %s", name)
		}
		i++
	}

	// Phase 2: no subcommand at all.
	if i >= len(args) {
		return rootFlagResult(pol)
	}

	// Phase 3: subcommand dispatch.
	sub := args[i]
	i++
	if pol.SubcommandDenied(sub) {
		return policy.Deny("subcommand is explicitly denied: %s", sub)
	}
	spec, known := pol.Subcommands[sub]
	if !known {
		return policy.Deny("unknown subcommand: %s", sub)
	}
	if !spec.IsEnabled() {
		return policy.Deny("subcommand is disabled: %s", sub)
	}

	active := spec
	rest := args[i:]
	afterMarker := false

	// Phase 4: run-script resolution.
	if len(spec.Scripts) > 0 {
		j := 0
		for j < len(rest) && isFlagShaped(rest[j]) {
			name, _, _ := flagName(rest[j])
			if !spec.FlagAllowed(name) {
				return denyFlag(spec, rest[j])
			}
			j++
		}
		if j < len(rest) && rest[j] == "--" {
			// The marker lets a script literally named "--report" be
			// addressed unambiguously.
			afterMarker = true
			j++
		}
		if j >= len(rest) {
			return policy.Deny("missing script name for subcommand: %s", sub)
		}
		scriptName := rest[j]
		j++
		scriptSpec, found := spec.Scripts[scriptName]
		if !found {
			return policy.Deny("unknown script: %s", scriptName)
		}
		if !scriptSpec.IsEnabled() {
			return policy.Deny("script is disabled: %s", scriptName)
		}
		active = scriptSpec
		rest = rest[j:]
	}

	// Phase 5: flags and positionals against the resolved spec.
	if reason := v.evalTokens(rest, active, afterMarker); reason != "" {
		return policy.ValidationResult{Allowed: false, Reason: reason}
	}

	timeout := pol.DefaultTimeout()
	if active.TimeoutSeconds > 0 {
		timeout = time.Duration(active.TimeoutSeconds) * time.Second
	}
	return policy.ValidationResult{
		Allowed:               true,
		Timeout:               timeout,
		SuppressSuccessOutput: active.SuppressSuccessOutput,
		PolicySpec:            active.AsMap(),
	}
}

// evalTokens checks the remaining tokens against the active spec and returns
// a denial reason, or "" when everything passes. afterMarker starts the scan
// in end-of-options state, where every token is a positional.
func (v *PackageManagerValidator) evalTokens(tokens []string, spec *policy.SubcommandSpec, afterMarker bool) string {
	seenFlags := map[string]string{}
	marker := afterMarker

	for k := 0; k < len(tokens); k++ {
		token := tokens[k]
		if token == "--" && !marker {
			marker = true
			continue
		}
		if !marker && isFlagShaped(token) {
			name, value, hasValue := flagName(token)
			if !spec.FlagAllowed(name) {
				return denyFlag(spec, token).Reason
			}
			if hasValue {
				seenFlags[name] = value
				continue
			}
			// A value-bearing required flag may also use the space form.
			if req, required := spec.RequireFlags[name]; required && req.RequiresValue() &&
				k+1 < len(tokens) && tokens[k+1] != "--" && !isFlagShaped(tokens[k+1]) {
				k++
				seenFlags[name] = tokens[k]
				continue
			}
			seenFlags[name] = ""
			continue
		}

		// Positional argument, before or after the marker.
		if spec.DenyArgs {
			return fmt.Sprintf("positional arguments are not permitted: %s", token)
		}
		if spec.AllowTestPaths {
			if _, err := v.resolver.Resolve(token); err != nil {
				return fmt.Sprintf("path argument rejected: %v", err)
			}
		}
	}

	names := make([]string, 0, len(spec.RequireFlags))
	for name := range spec.RequireFlags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req := spec.RequireFlags[name]
		value, present := seenFlags[name]
		if !present {
			return fmt.Sprintf("required flag missing: %s", name)
		}
		if !req.Accepts(value) {
			return fmt.Sprintf("required flag %s has unacceptable value: %q", name, value)
		}
	}
	return ""
}

// AdjustEnvironment merges the policy's env settings over the base environment.
func (v *PackageManagerValidator) AdjustEnvironment(baseEnv map[string]string, _ []string, pol *policy.CommandPolicy) map[string]string {
	return adjustEnvironment(baseEnv, pol)
}

func denyFlag(spec *policy.SubcommandSpec, token string) policy.ValidationResult {
	if spec.AllowedFlags != nil && len(*spec.AllowedFlags) == 0 {
		return policy.Deny("flags are not permitted here: %s", token)
	}
	return policy.Deny("flag is not permitted: %s", token)
}

// allRootFlags reports whether every remaining token is a recognized root flag.
func allRootFlags(tokens []string, pol *policy.CommandPolicy) bool {
	for _, token := range tokens {
		name, _, _ := flagName(token)
		if !isFlagShaped(token) || !contains(pol.RootFlags, name) {
			return false
		}
	}
	return true
}

// rootFlagResult is the decision for an invocation with no subcommand.
func rootFlagResult(pol *policy.CommandPolicy) policy.ValidationResult {
	return policy.ValidationResult{
		Allowed: true,
		Timeout: pol.DefaultTimeout(),
		PolicySpec: map[string]any{
			"root_flags": append([]string(nil), pol.RootFlags...),
		},
	}
}
