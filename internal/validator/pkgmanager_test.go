package validator

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/gatekeeper/internal/policy"
	"github.com/haasonsaas/gatekeeper/internal/workspace"
)

// pnpmPolicy models the tool the package-manager validator exists for:
// subcommands, run-scripts, and global flags before the subcommand.
func pnpmPolicy() *policy.CommandPolicy {
	noFlags := []string{}
	disabled := false
	return &policy.CommandPolicy{
		Description: "pnpm package manager",
		RootFlags:   []string{"--version", "--help"},
		GlobalFlagsBeforeSubcommand: map[string]bool{
			"--filter":  true,
			"--dir":     true,
			"--verbose": false,
		},
		Subcommands: map[string]*policy.SubcommandSpec{
			"build": {AllowedFlags: &noFlags},
			"install": {
				AllowedFlags: &[]string{"--frozen-lockfile"},
				RequireFlags: map[string]policy.RequireSpec{
					"--frozen-lockfile": {Present: true},
				},
				DenyArgs: true,
			},
			"publish": {Enabled: &disabled},
			"run": {
				Scripts: map[string]*policy.SubcommandSpec{
					"build":    {AllowedFlags: &noFlags, SuppressSuccessOutput: true},
					"test":     {AllowTestPaths: true, TimeoutSeconds: 300},
					"lint":     {DenyArgs: true},
					"--report": {},
				},
			},
		},
		DenySubcommands:       []string{"exec", "dlx"},
		DefaultTimeoutSeconds: 60,
	}
}

func validateWith(t *testing.T, root string, args ...string) policy.ValidationResult {
	t.Helper()
	v := NewPackageManagerValidator(workspace.Resolver{Root: root})
	return v.Validate(args, pnpmPolicy())
}

func TestRunScriptAllowed(t *testing.T) {
	res := validateWith(t, t.TempDir(), "run", "build")
	if !res.Allowed {
		t.Fatalf("pnpm run build should be allowed, got denial: %s", res.Reason)
	}
	if !res.SuppressSuccessOutput {
		t.Error("run build should request success output suppression")
	}
	if res.PolicySpec["suppress_success_output"] != true {
		t.Errorf("policy_spec should carry the script's suppression, got %v", res.PolicySpec)
	}
}

func TestTopLevelBuildIsIndependentOfRunScript(t *testing.T) {
	// "build" exists both as a top-level subcommand (no flags) and as a run
	// script; the two specs never merge.
	denied := validateWith(t, t.TempDir(), "build", "--ok-flag")
	if denied.Allowed {
		t.Fatal("top-level build with empty allowed_flags must deny --ok-flag")
	}
	if !strings.Contains(denied.Reason, "--ok-flag") {
		t.Errorf("denial should name the flag, got %q", denied.Reason)
	}
}

func TestNoTopLevelScriptPromotion(t *testing.T) {
	// A script under run.scripts never creates a top-level subcommand.
	res := validateWith(t, t.TempDir(), "test")
	if res.Allowed {
		t.Fatal("pnpm test should be denied: no top-level test subcommand")
	}
	if !strings.Contains(res.Reason, "unknown subcommand") {
		t.Errorf("unexpected reason: %q", res.Reason)
	}
}

func TestGlobalFlagsBeforeSubcommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed bool
		reason  string
	}{
		{"value in space form", []string{"--filter", "@scope/pkg", "run", "build"}, true, ""},
		{"value in equals form", []string{"--filter=@scope/pkg", "run", "build"}, true, ""},
		{"boolean global flag", []string{"--verbose", "run", "build"}, true, ""},
		{"chained global flags", []string{"--verbose", "--filter", "a", "--dir", "b", "run", "build"}, true, ""},
		{"two value flags back to back", []string{"--filter", "a", "--dir=b", "run", "build"}, true, ""},
		{"marker after script is harmless", []string{"run", "build", "--"}, true, ""},
		{"value flag with no value", []string{"--filter"}, false, "missing value for global flag"},
		{"value flag followed by flag", []string{"--filter", "--verbose", "run", "build"}, false, "missing value for global flag"},
		{"boolean flag given a value", []string{"--verbose=yes", "run", "build"}, false, "does not take a value"},
		{"unrecognized root flag", []string{"--porcelain", "run", "build"}, false, "unrecognized root flag"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := validateWith(t, t.TempDir(), tc.args...)
			if res.Allowed != tc.allowed {
				t.Fatalf("args %v: allowed = %v, want %v (reason %q)",
					tc.args, res.Allowed, tc.allowed, res.Reason)
			}
			if !tc.allowed && !strings.Contains(res.Reason, tc.reason) {
				t.Errorf("args %v: reason %q should contain %q", tc.args, res.Reason, tc.reason)
			}
		})
	}
}

func TestRootFlagInvocations(t *testing.T) {
	res := validateWith(t, t.TempDir(), "--version")
	if !res.Allowed {
		t.Fatalf("pnpm --version should be allowed: %s", res.Reason)
	}
	res = validateWith(t, t.TempDir(), "--version", "--help")
	if !res.Allowed {
		t.Fatalf("multiple root flags should be allowed: %s", res.Reason)
	}
	res = validateWith(t, t.TempDir())
	if !res.Allowed {
		t.Fatalf("bare invocation should be allowed: %s", res.Reason)
	}
	res = validateWith(t, t.TempDir(), "--version", "run", "build")
	if res.Allowed {
		t.Error("root flag followed by a subcommand should be denied")
	}
}

func TestSubcommandDispatch(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		reason string
	}{
		{"denied subcommand", []string{"exec", "anything"}, "explicitly denied"},
		{"denied even if undefined", []string{"dlx", "create-app"}, "explicitly denied"},
		{"unknown subcommand", []string{"remove", "pkg"}, "unknown subcommand"},
		{"disabled subcommand", []string{"publish"}, "disabled"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := validateWith(t, t.TempDir(), tc.args...)
			if res.Allowed {
				t.Fatalf("args %v should be denied", tc.args)
			}
			if !strings.Contains(res.Reason, tc.reason) {
				t.Errorf("args %v: reason %q should contain %q", tc.args, res.Reason, tc.reason)
			}
		})
	}
}

func TestRunScriptResolution(t *testing.T) {
	t.Run("unknown script", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "run", "deploy")
		if res.Allowed || !strings.Contains(res.Reason, "unknown script") {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("missing script name", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "run")
		if res.Allowed || !strings.Contains(res.Reason, "missing script name") {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("flag-shaped script via end-of-options marker", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "run", "--", "--report")
		if !res.Allowed {
			t.Errorf("script named --report should resolve after the marker: %s", res.Reason)
		}
	})

	t.Run("flag-shaped script without marker is a flag", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "run", "--report")
		if res.Allowed {
			t.Error("--report without marker should be treated as an unknown run flag")
		}
	})

	t.Run("script timeout override", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "run", "test")
		if !res.Allowed {
			t.Fatalf("run test should be allowed: %s", res.Reason)
		}
		if res.Timeout != 300*time.Second {
			t.Errorf("script timeout = %v, want 300s", res.Timeout)
		}
	})

	t.Run("default timeout from policy", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "run", "build")
		if res.Timeout != 60*time.Second {
			t.Errorf("timeout = %v, want policy default 60s", res.Timeout)
		}
	})
}

func TestScriptFlagsCrossContamination(t *testing.T) {
	// --ok-flag is permitted for the run script "build" in this policy but
	// not for the top-level "build" subcommand of the same name.
	pol := pnpmPolicy()
	okFlag := []string{"--ok-flag"}
	pol.Subcommands["run"].Scripts["build"] = &policy.SubcommandSpec{AllowedFlags: &okFlag}
	v := NewPackageManagerValidator(workspace.Resolver{Root: t.TempDir()})

	res := v.Validate([]string{"--filter", "@scope/pkg", "run", "build", "--ok-flag"}, pol)
	if !res.Allowed {
		t.Fatalf("run build --ok-flag should be allowed: %s", res.Reason)
	}

	res = v.Validate([]string{"build", "--ok-flag"}, pol)
	if res.Allowed {
		t.Fatal("top-level build --ok-flag must stay denied: specs never merge")
	}
}

func TestDenyArgsBeforeAndAfterMarker(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"positional before marker", []string{"run", "lint", "src/"}},
		{"positional after marker", []string{"run", "lint", "--", "src/"}},
		{"flag-shaped positional after marker", []string{"run", "lint", "--", "--fix"}},
		{"positional on install", []string{"install", "--frozen-lockfile", "leftpad"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := validateWith(t, t.TempDir(), tc.args...)
			if res.Allowed {
				t.Fatalf("args %v should be denied by deny_args", tc.args)
			}
			if !strings.Contains(res.Reason, "positional arguments are not permitted") {
				t.Errorf("args %v: unexpected reason %q", tc.args, res.Reason)
			}
		})
	}
}

func TestAllowTestPathsContainment(t *testing.T) {
	root := t.TempDir()

	res := validateWith(t, root, "run", "test", "tests/unit_test.py")
	if !res.Allowed {
		t.Fatalf("path inside workspace should be allowed: %s", res.Reason)
	}

	res = validateWith(t, root, "run", "test", "--", "tests/other_test.py")
	if !res.Allowed {
		t.Fatalf("path after marker should still be checked and allowed: %s", res.Reason)
	}

	for _, escape := range []string{"../outside_test.py", "tests/../../escape.py", "/etc/passwd"} {
		res = validateWith(t, root, "run", "test", escape)
		if res.Allowed {
			t.Errorf("path %q escapes the workspace and must be denied", escape)
		}
	}
}

func TestRequireFlags(t *testing.T) {
	t.Run("missing required flag", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "install")
		if res.Allowed || !strings.Contains(res.Reason, "required flag missing") {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("required flag present", func(t *testing.T) {
		res := validateWith(t, t.TempDir(), "install", "--frozen-lockfile")
		if !res.Allowed {
			t.Errorf("install with required flag should be allowed: %s", res.Reason)
		}
	})

	t.Run("enumerated value", func(t *testing.T) {
		pol := pnpmPolicy()
		pol.Subcommands["install"].RequireFlags = map[string]policy.RequireSpec{
			"--reporter": {Present: true, Values: []string{"json", "tap"}},
		}
		pol.Subcommands["install"].AllowedFlags = nil
		v := NewPackageManagerValidator(workspace.Resolver{Root: t.TempDir()})

		res := v.Validate([]string{"install", "--reporter=json"}, pol)
		if !res.Allowed {
			t.Errorf("acceptable value should pass: %s", res.Reason)
		}
		res = v.Validate([]string{"install", "--reporter", "tap"}, pol)
		if !res.Allowed {
			t.Errorf("space-form value should pass: %s", res.Reason)
		}
		res = v.Validate([]string{"install", "--reporter=xml"}, pol)
		if res.Allowed {
			t.Error("unacceptable value should be denied")
		}
	})

	t.Run("fixed literal", func(t *testing.T) {
		pol := pnpmPolicy()
		pol.Subcommands["install"].RequireFlags = map[string]policy.RequireSpec{
			"--mode": {Present: true, Literal: "ci"},
		}
		pol.Subcommands["install"].AllowedFlags = nil
		v := NewPackageManagerValidator(workspace.Resolver{Root: t.TempDir()})

		if res := v.Validate([]string{"install", "--mode=ci"}, pol); !res.Allowed {
			t.Errorf("literal value should pass: %s", res.Reason)
		}
		if res := v.Validate([]string{"install", "--mode=dev"}, pol); res.Allowed {
			t.Error("wrong literal value should be denied")
		}
	})
}

func TestAdjustEnvironment(t *testing.T) {
	pol := &policy.CommandPolicy{
		SafeEnv:      map[string]string{"CI": "1", "LANG": "C"},
		EnvOverrides: map[string]string{"GIT_PAGER": "cat", "LANG": "C.UTF-8"},
	}
	base := map[string]string{"PATH": "/usr/bin", "LANG": "en_US.UTF-8", "GIT_PAGER": "less"}

	v := NewPackageManagerValidator(workspace.Resolver{Root: t.TempDir()})
	env := v.AdjustEnvironment(base, nil, pol)

	if env["PATH"] != "/usr/bin" {
		t.Error("base env keys should survive")
	}
	if env["CI"] != "1" {
		t.Error("safe_env should fill keys the base lacks")
	}
	if env["LANG"] != "C.UTF-8" {
		t.Errorf("env_overrides must win on conflict, got LANG=%q", env["LANG"])
	}
	if env["GIT_PAGER"] != "cat" {
		t.Errorf("env_overrides must beat the base, got GIT_PAGER=%q", env["GIT_PAGER"])
	}
}
