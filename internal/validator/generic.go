package validator

import (
	"time"

	"github.com/haasonsaas/gatekeeper/internal/policy"
	"github.com/haasonsaas/gatekeeper/internal/workspace"
)

// GenericFlagValidator covers root-command tools with a flat flag namespace:
// interpreters, VCS read-only commands, test runners. Every flag-shaped token
// must be a known key in the policy's flag map; positional arguments pass
// through unchecked unless a matched flag marks the invocation as test mode,
// in which case positionals are paths that must stay inside the workspace.
type GenericFlagValidator struct {
	resolver PathResolver
}

// NewGenericFlagValidator creates the generic flag validator. A nil resolver
// defaults to the workspace root from the environment.
func NewGenericFlagValidator(resolver PathResolver) *GenericFlagValidator {
	if resolver == nil {
		resolver = workspace.FromEnv()
	}
	return &GenericFlagValidator{resolver: resolver}
}

// Validate applies the flat flag map to every flag-shaped token.
func (v *GenericFlagValidator) Validate(args []string, pol *policy.CommandPolicy) policy.ValidationResult {
	suppress := false
	testMode := false
	timeout := pol.DefaultTimeout()
	var flagTimeout time.Duration
	var positionals []string

	for _, token := range args {
		if contains(pol.DenyGlobalFlags, token) {
			return policy.Deny("flag is explicitly denied: %s", token)
		}
		if !isFlagShaped(token) {
			positionals = append(positionals, token)
			continue
		}
		spec, known := pol.Flags[token]
		if !known {
			// Retry with any "=value" portion stripped.
			name, _, hadValue := flagName(token)
			if hadValue {
				spec, known = pol.Flags[name]
			}
		}
		if !known {
			return policy.Deny("unknown flag: %s", token)
		}
		if spec == nil {
			continue
		}
		if spec.SuppressSuccessOutput {
			suppress = true
		}
		if spec.AllowTestMode {
			testMode = true
		}
		if spec.TimeoutSeconds > 0 {
			if override := time.Duration(spec.TimeoutSeconds) * time.Second; override > flagTimeout {
				flagTimeout = override
			}
		}
	}

	// Any matched per-flag override replaces the policy default, even a
	// shorter one; multiple overrides resolve to the largest.
	if flagTimeout > 0 {
		timeout = flagTimeout
	}

	if testMode {
		for _, arg := range positionals {
			if _, err := v.resolver.Resolve(arg); err != nil {
				return policy.Deny("path argument rejected: %v", err)
			}
		}
	}

	return policy.ValidationResult{
		Allowed:               true,
		Timeout:               timeout,
		SuppressSuccessOutput: suppress,
		PolicySpec: map[string]any{
			"suppress_success_output": suppress,
		},
	}
}

// AdjustEnvironment merges the policy's env settings over the base
// environment. This is how a VCS tool gets pager and color output disabled
// deterministically for log parsing.
func (v *GenericFlagValidator) AdjustEnvironment(baseEnv map[string]string, _ []string, pol *policy.CommandPolicy) map[string]string {
	return adjustEnvironment(baseEnv, pol)
}
