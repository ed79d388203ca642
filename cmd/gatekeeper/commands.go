package main

import (
	"github.com/spf13/cobra"
)

// buildCheckCmd creates the "check" command: validate without executing.
func buildCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check -- CMD [ARGS...]",
		Short: "Validate a command against policy without executing it",
		Long: `Validate a command against the loaded policies and print the decision
as JSON. The command is never executed. Exits 0 when allowed, 1 when denied.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handleCheck(cmd.OutOrStdout(), args)
		},
	}
}

// buildRunCmd creates the "run" command: validate and execute.
func buildRunCmd() *cobra.Command {
	var workspaceDir string
	cmd := &cobra.Command{
		Use:   "run -- CMD [ARGS...]",
		Short: "Validate and execute a command under policy control",
		Long: `Validate a command against the loaded policies and, if allowed, execute
it directly (no shell) with the policy's environment adjustments and timeout.
The structured execution result is printed as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handleRun(cmd.Context(), cmd.OutOrStdout(), args, workspaceDir)
		},
	}
	cmd.Flags().StringVar(&workspaceDir, "workspace", "",
		"Workspace root for path containment (or set GATEKEEPER_WORKSPACE)")
	return cmd
}

// buildPolicyCmd creates the "policy" command group.
func buildPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the loaded policy document",
	}
	cmd.AddCommand(
		buildPolicyListCmd(),
		buildPolicyShowCmd(),
		buildPolicyInstructionsCmd(),
	)
	return cmd
}

func buildPolicyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured root commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlePolicyList(cmd.OutOrStdout())
		},
	}
}

func buildPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [root-command]",
		Short: "Show the full policy for a root command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlePolicyShow(cmd.OutOrStdout(), args[0])
		},
	}
}

func buildPolicyInstructionsCmd() *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "instructions [root-command]",
		Short: "Render usage instructions derived from a policy",
		Long: `Render a human-readable summary of what the policy permits for a root
command: allowed flags, subcommands, run-scripts, and denied subcommands.
Intended to be embedded into agent prompts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlePolicyInstructions(cmd.OutOrStdout(), args[0], maxChars)
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Truncate output to this many characters (0 = no limit)")
	return cmd
}
