// Package policy defines the command policy data model and the file-backed
// store the gatekeeper consults before any command is validated or run.
//
// A policy document is a YAML file whose top-level keys are root command
// names (case-insensitive) and whose values describe what each tool may do:
// root flags, global flags permitted before a subcommand, subcommand and
// run-script specs, denied subcommands, timeouts, and environment overrides.
package policy

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidatorKind selects which validator family handles a root command.
type ValidatorKind string

const (
	// KindFlags is the generic flag validator for single-tool CLIs with a
	// flat flag namespace (interpreters, VCS read-only commands, test runners).
	KindFlags ValidatorKind = "flags"

	// KindPackageManager handles tools with subcommands, named run-scripts,
	// and global flags that precede the subcommand.
	KindPackageManager ValidatorKind = "package_manager"
)

// FlagSpec configures a single flag recognized by the generic flag validator.
// A nil FlagSpec value in CommandPolicy.Flags means the flag is permitted
// with no special behavior.
type FlagSpec struct {
	// SuppressSuccessOutput requests sentinel output when the command succeeds.
	SuppressSuccessOutput bool `yaml:"suppress_success_output"`

	// AllowTestMode marks the flag as enabling a test invocation whose
	// positional arguments are treated as workspace-relative paths.
	AllowTestMode bool `yaml:"allow_test_mode"`

	// TimeoutSeconds overrides the policy default timeout when the flag is present.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// RequireSpec describes a flag the policy requires on a subcommand. It is
// one of three shapes in YAML: a boolean presence requirement, a list of
// acceptable values, or a fixed literal value.
type RequireSpec struct {
	// Present requires the flag with no value constraint.
	Present bool

	// Values enumerates acceptable values for the flag.
	Values []string

	// Literal pins the flag to exactly one value.
	Literal string
}

// UnmarshalYAML accepts `true`, `"value"`, or `[a, b, c]`.
func (r *RequireSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err == nil {
			r.Present = b
			return nil
		}
		var s string
		if err := node.Decode(&s); err != nil {
			return fmt.Errorf("require_flags entry must be a bool, string, or list: %w", err)
		}
		r.Present = true
		r.Literal = s
		return nil
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return fmt.Errorf("require_flags list entries must be strings: %w", err)
		}
		r.Present = true
		r.Values = values
		return nil
	default:
		return fmt.Errorf("require_flags entry must be a bool, string, or list")
	}
}

// Accepts reports whether the given flag value satisfies the requirement.
func (r RequireSpec) Accepts(value string) bool {
	if r.Literal != "" {
		return value == r.Literal
	}
	if len(r.Values) > 0 {
		for _, v := range r.Values {
			if value == v {
				return true
			}
		}
		return false
	}
	return true
}

// RequiresValue reports whether the requirement constrains the flag's value.
func (r RequireSpec) RequiresValue() bool {
	return r.Literal != "" || len(r.Values) > 0
}

// SubcommandSpec constrains one subcommand of a package-manager style tool.
// The same shape describes a named script under a "run"-style subcommand;
// a subcommand spec and a same-named script spec are always independent and
// are never merged.
type SubcommandSpec struct {
	// AllowedFlags is a tri-state constraint: nil leaves flags unconstrained,
	// an empty list forbids every flag, and a non-empty list permits exactly
	// the listed flags.
	AllowedFlags *[]string `yaml:"allowed_flags"`

	// DenyArgs forbids positional arguments, including after an explicit
	// end-of-options marker.
	DenyArgs bool `yaml:"deny_args"`

	// AllowTestPaths treats positional arguments as filesystem paths that
	// must resolve inside the workspace root.
	AllowTestPaths bool `yaml:"allow_test_paths"`

	// RequireFlags lists flags that must accompany the subcommand.
	RequireFlags map[string]RequireSpec `yaml:"require_flags"`

	// Enabled defaults to true; a disabled subcommand is always rejected.
	Enabled *bool `yaml:"enabled"`

	// Scripts names the run-scripts reachable through this subcommand.
	// Only meaningful for a "run"-style subcommand.
	Scripts map[string]*SubcommandSpec `yaml:"scripts"`

	// SuppressSuccessOutput requests sentinel output on success.
	SuppressSuccessOutput bool `yaml:"suppress_success_output"`

	// TimeoutSeconds overrides the policy default timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// IsEnabled reports whether the subcommand may be used at all.
func (s *SubcommandSpec) IsEnabled() bool {
	return s != nil && (s.Enabled == nil || *s.Enabled)
}

// FlagAllowed evaluates the tri-state AllowedFlags constraint for a flag name
// (the portion before any "=").
func (s *SubcommandSpec) FlagAllowed(name string) bool {
	if s == nil || s.AllowedFlags == nil {
		return true
	}
	for _, allowed := range *s.AllowedFlags {
		if allowed == name {
			return true
		}
	}
	return false
}

// AsMap renders the spec as the generic policy_spec map carried on a
// ValidationResult for executor-level overrides and diagnostics.
func (s *SubcommandSpec) AsMap() map[string]any {
	if s == nil {
		return nil
	}
	m := map[string]any{
		"deny_args":               s.DenyArgs,
		"allow_test_paths":        s.AllowTestPaths,
		"suppress_success_output": s.SuppressSuccessOutput,
		"enabled":                 s.IsEnabled(),
	}
	if s.AllowedFlags != nil {
		m["allowed_flags"] = append([]string(nil), (*s.AllowedFlags)...)
	}
	if s.TimeoutSeconds > 0 {
		m["timeout_seconds"] = s.TimeoutSeconds
	}
	return m
}

// CommandPolicy is the complete declarative policy for one root command.
type CommandPolicy struct {
	Description string `yaml:"description"`

	// Validator optionally pins the validator family; when empty the
	// registry infers it from the policy shape.
	Validator ValidatorKind `yaml:"validator"`

	// RootFlags are valid directly after the root command with no subcommand.
	RootFlags []string `yaml:"root_flags"`

	// GlobalFlagsBeforeSubcommand maps flags permitted before a subcommand
	// to whether they consume a following value.
	GlobalFlagsBeforeSubcommand map[string]bool `yaml:"global_flags_before_subcommand"`

	// Subcommands constrains each recognized subcommand.
	Subcommands map[string]*SubcommandSpec `yaml:"subcommands"`

	// DenySubcommands are rejected regardless of absence from Subcommands.
	DenySubcommands []string `yaml:"deny_subcommands"`

	// Flags is the generic validator's flat flag map. A key with a null
	// value permits the flag with default behavior.
	Flags map[string]*FlagSpec `yaml:"flags"`

	// DenyGlobalFlags are rejected outright by the generic validator.
	DenyGlobalFlags []string `yaml:"deny_global_flags"`

	// DefaultTimeoutSeconds bounds command execution time.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`

	// SafeEnv supplies environment defaults applied when the base
	// environment lacks the key.
	SafeEnv map[string]string `yaml:"safe_env"`

	// EnvOverrides always win over the base environment.
	EnvOverrides map[string]string `yaml:"env_overrides"`
}

// DefaultTimeout returns the policy timeout as a duration, or zero when unset.
func (p *CommandPolicy) DefaultTimeout() time.Duration {
	if p == nil || p.DefaultTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.DefaultTimeoutSeconds) * time.Second
}

// SubcommandDenied reports whether the name appears in DenySubcommands.
func (p *CommandPolicy) SubcommandDenied(name string) bool {
	if p == nil {
		return false
	}
	for _, denied := range p.DenySubcommands {
		if denied == name {
			return true
		}
	}
	return false
}

// Kind resolves the validator family for this policy: an explicit Validator
// field wins, otherwise a policy with subcommands or global flags is treated
// as package-manager shaped.
func (p *CommandPolicy) Kind() ValidatorKind {
	if p != nil && p.Validator != "" {
		return p.Validator
	}
	if p != nil && (len(p.Subcommands) > 0 || len(p.GlobalFlagsBeforeSubcommand) > 0) {
		return KindPackageManager
	}
	return KindFlags
}

// ValidationResult is the decision a validator hands back to the executor.
type ValidationResult struct {
	// Allowed reports whether the command may be spawned at all.
	Allowed bool

	// Reason explains a denial in human-readable form.
	Reason string

	// Timeout bounds the child process; zero means the executor default.
	Timeout time.Duration

	// SuppressSuccessOutput replaces successful output with a sentinel.
	SuppressSuccessOutput bool

	// PolicySpec is the resolved spec the decision was based on, for
	// executor-level override and diagnostics.
	PolicySpec map[string]any
}

// Deny builds a denied result with the given reason.
func Deny(format string, args ...any) ValidationResult {
	return ValidationResult{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}
