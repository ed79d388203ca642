package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/gatekeeper/internal/config"
	"github.com/haasonsaas/gatekeeper/internal/executor"
	"github.com/haasonsaas/gatekeeper/internal/policy"
	"github.com/haasonsaas/gatekeeper/internal/security"
	"github.com/haasonsaas/gatekeeper/internal/validator"
	"github.com/haasonsaas/gatekeeper/internal/workspace"
)

// checkDecision is the JSON document printed by "gatekeeper check".
type checkDecision struct {
	Allowed        bool    `json:"allowed"`
	Reason         string  `json:"reason,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// openStore loads the policy document resolved from --policies, the
// GATEKEEPER_POLICY_FILE variable, or the default config path.
func openStore() *policy.Store {
	return policy.NewStore(config.ResolvePolicyPath(policiesPath), slog.Default())
}

// buildComponents wires the store and a registry bound to its policies. An
// explicit workspace directory overrides the environment-derived root.
func buildComponents(workspaceDir string) (*policy.Store, *validator.Registry) {
	store := openStore()
	resolver := workspace.FromEnv()
	if strings.TrimSpace(workspaceDir) != "" {
		resolver = workspace.Resolver{Root: workspaceDir}
	}
	return store, validator.BuildRegistry(resolver)
}

func handleCheck(out io.Writer, argv []string) error {
	store, registry := buildComponents("")
	defer store.Close()

	root, err := security.SanitizeExecutable(argv[0])
	if err != nil {
		return err
	}
	rootName := strings.ToLower(root)

	decision := policy.Deny("no policy for root command: %s", rootName)
	if pol, ok := store.GetPolicy(rootName); ok {
		val, found := registry.Resolve(rootName, pol)
		if !found {
			return fmt.Errorf("no validator registered for root command: %s", rootName)
		}
		decision = val.Validate(argv[1:], pol)
	}

	payload, err := json.MarshalIndent(checkDecision{
		Allowed:        decision.Allowed,
		Reason:         decision.Reason,
		TimeoutSeconds: decision.Timeout.Seconds(),
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(payload))

	if !decision.Allowed {
		return fmt.Errorf("command denied: %s", decision.Reason)
	}
	return nil
}

func handleRun(ctx context.Context, out io.Writer, argv []string, workspaceDir string) error {
	store, registry := buildComponents(workspaceDir)

	exe := executor.New(store, registry, slog.Default(), nil)
	result := exe.Execute(ctx, argv)

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		store.Close()
		return err
	}
	fmt.Fprintln(out, string(payload))
	store.Close()

	if code := exitCode(result); code != 0 {
		os.Exit(code)
	}
	return nil
}

// exitCode maps an execution status onto a process exit code: the child's
// own code for failures, 124 for timeouts (the coreutils convention), 1 for
// denials, and 2 for internal errors.
func exitCode(result executor.Result) int {
	switch result.Status {
	case executor.StatusSuccess:
		return 0
	case executor.StatusDenied:
		return 1
	case executor.StatusTimeout:
		return 124
	case executor.StatusFailed:
		if result.ReturnCode != nil && *result.ReturnCode != 0 {
			return *result.ReturnCode
		}
		return 1
	default:
		return 2
	}
}

func handlePolicyList(out io.Writer) error {
	store := openStore()
	defer store.Close()

	policies := store.AllPolicies()
	if len(policies) == 0 {
		fmt.Fprintln(out, "No policies configured.")
		return nil
	}

	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "Policies:")
	for _, name := range names {
		pol := policies[name]
		line := fmt.Sprintf("  - %s (%s)", name, pol.Kind())
		if desc := strings.TrimSpace(pol.Description); desc != "" {
			line += ": " + desc
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func handlePolicyShow(out io.Writer, rootCmd string) error {
	store := openStore()
	defer store.Close()

	pol, ok := store.GetPolicy(rootCmd)
	if !ok {
		return fmt.Errorf("no policy for root command: %s", rootCmd)
	}
	payload, err := yaml.Marshal(map[string]*policy.CommandPolicy{
		strings.ToLower(rootCmd): pol,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(payload))
	return nil
}

func handlePolicyInstructions(out io.Writer, rootCmd string, maxChars int) error {
	store := openStore()
	defer store.Close()

	pol, ok := store.GetPolicy(rootCmd)
	if !ok {
		return fmt.Errorf("no policy for root command: %s", rootCmd)
	}
	fmt.Fprintln(out, policy.RenderInstructions(strings.ToLower(rootCmd), pol, maxChars))
	return nil
}
