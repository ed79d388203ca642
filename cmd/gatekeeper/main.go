// Package main provides the CLI entry point for Gatekeeper, a policy-driven
// command validation and execution tool.
//
// Gatekeeper validates shell-style commands against a YAML policy document
// before running them. Nothing ever passes through a shell: commands are
// tokenized with simple quoting rules, validated against the policy for
// their root command, and spawned directly only when the validator allows
// them.
//
// # Basic Usage
//
// Validate a command without running it:
//
//	gatekeeper check -- pnpm run build
//
// Validate and execute:
//
//	gatekeeper run -- pnpm run build
//
// Inspect the loaded policies:
//
//	gatekeeper policy list
//	gatekeeper policy show pnpm
//	gatekeeper policy instructions pnpm --max-chars 2000
//
// # Environment Variables
//
//   - GATEKEEPER_POLICY_FILE: policy document path (default: ~/.gatekeeper/policies.yaml)
//   - GATEKEEPER_WORKSPACE: workspace root for path containment checks
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/gatekeeper/internal/observability"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp

	policiesPath string
	debug        bool
	logFormat    string
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - policy-checked command execution",
		Long: `Gatekeeper validates agent-issued commands against per-tool policies
and executes only what the policy allows. Commands never pass through a
shell; denied commands are never spawned.

Documentation: https://github.com/haasonsaas/gatekeeper`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "info"
			if debug {
				level = "debug"
			}
			logger := observability.NewLogger(observability.LogConfig{
				Level:  level,
				Format: logFormat,
				Output: os.Stderr,
			})
			slog.SetDefault(logger)
		},
	}
	rootCmd.PersistentFlags().StringVar(&policiesPath, "policies", "",
		"Path to the YAML policy document (or set GATEKEEPER_POLICY_FILE)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json or text)")

	rootCmd.AddCommand(
		buildCheckCmd(),
		buildRunCmd(),
		buildPolicyCmd(),
	)

	return rootCmd
}
