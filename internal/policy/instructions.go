package policy

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Ellipsis marks truncated instruction text.
const Ellipsis = "..."

// RenderInstructions renders a human/LLM-readable summary of what the policy
// permits for a root command: root flags, subcommands with their flag
// constraints and required flags, run-scripts, denied subcommands, and a few
// example invocations. The text is documentation for the calling agent, not
// an enforcement surface. Output longer than maxChars is truncated with a
// trailing ellipsis marker; maxChars <= 0 means no limit.
func RenderInstructions(rootCmd string, pol *CommandPolicy, maxChars int) string {
	if pol == nil {
		return ""
	}
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n", rootCmd)
	if desc := strings.TrimSpace(pol.Description); desc != "" {
		fmt.Fprintf(&b, "%s\n", desc)
	}

	if len(pol.RootFlags) > 0 {
		fmt.Fprintf(&b, "Root flags: %s\n", strings.Join(sortedCopy(pol.RootFlags), ", "))
	}
	if len(pol.GlobalFlagsBeforeSubcommand) > 0 {
		names := make([]string, 0, len(pol.GlobalFlagsBeforeSubcommand))
		for name, takesValue := range pol.GlobalFlagsBeforeSubcommand {
			if takesValue {
				name += " <value>"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "Global flags (before subcommand): %s\n", strings.Join(names, ", "))
	}

	if len(pol.Flags) > 0 {
		names := make([]string, 0, len(pol.Flags))
		for name := range pol.Flags {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "Allowed flags: %s\n", strings.Join(names, ", "))
	}

	for _, name := range sortedSpecNames(pol.Subcommands) {
		spec := pol.Subcommands[name]
		if !spec.IsEnabled() {
			fmt.Fprintf(&b, "- %s %s: disabled\n", rootCmd, name)
			continue
		}
		fmt.Fprintf(&b, "- %s %s%s\n", rootCmd, name, describeSpec(spec))
		for _, script := range sortedSpecNames(spec.Scripts) {
			scriptSpec := spec.Scripts[script]
			if !scriptSpec.IsEnabled() {
				fmt.Fprintf(&b, "  - %s %s %s: disabled\n", rootCmd, name, script)
				continue
			}
			fmt.Fprintf(&b, "  - %s %s %s%s\n", rootCmd, name, script, describeSpec(scriptSpec))
		}
	}

	if len(pol.DenySubcommands) > 0 {
		fmt.Fprintf(&b, "Never use: %s\n", strings.Join(sortedCopy(pol.DenySubcommands), ", "))
	}

	if example := exampleInvocation(rootCmd, pol); example != "" {
		fmt.Fprintf(&b, "Example: %s\n", example)
	}

	return truncate(b.String(), maxChars)
}

// truncate enforces the maxChars byte budget, marker included, and never cuts
// inside a multi-byte rune. A budget smaller than the marker shortens the
// marker itself.
func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	marker := Ellipsis
	if len(marker) > maxChars {
		marker = marker[:maxChars]
	}
	cut := maxChars - len(marker)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + marker
}

func describeSpec(spec *SubcommandSpec) string {
	var parts []string
	if spec.AllowedFlags != nil {
		if len(*spec.AllowedFlags) == 0 {
			parts = append(parts, "no flags")
		} else {
			parts = append(parts, "flags: "+strings.Join(sortedCopy(*spec.AllowedFlags), ", "))
		}
	}
	if spec.DenyArgs {
		parts = append(parts, "no positional arguments")
	}
	if spec.AllowTestPaths {
		parts = append(parts, "paths must stay inside the workspace")
	}
	for _, name := range sortedRequireNames(spec.RequireFlags) {
		req := spec.RequireFlags[name]
		switch {
		case req.Literal != "":
			parts = append(parts, fmt.Sprintf("always pass %s=%s", name, req.Literal))
		case len(req.Values) > 0:
			parts = append(parts, fmt.Sprintf("requires %s with one of: %s",
				name, strings.Join(req.Values, ", ")))
		default:
			parts = append(parts, "requires "+name)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}

// exampleInvocation picks a representative allowed invocation.
func exampleInvocation(rootCmd string, pol *CommandPolicy) string {
	for _, name := range sortedSpecNames(pol.Subcommands) {
		spec := pol.Subcommands[name]
		if !spec.IsEnabled() {
			continue
		}
		for _, script := range sortedSpecNames(spec.Scripts) {
			if spec.Scripts[script].IsEnabled() {
				return fmt.Sprintf("%s %s %s", rootCmd, name, script)
			}
		}
		return fmt.Sprintf("%s %s", rootCmd, name)
	}
	if len(pol.Flags) > 0 {
		names := make([]string, 0, len(pol.Flags))
		for name := range pol.Flags {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Sprintf("%s %s", rootCmd, names[0])
	}
	if len(pol.RootFlags) > 0 {
		return fmt.Sprintf("%s %s", rootCmd, sortedCopy(pol.RootFlags)[0])
	}
	return ""
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func sortedSpecNames(specs map[string]*SubcommandSpec) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedRequireNames(reqs map[string]RequireSpec) []string {
	names := make([]string, 0, len(reqs))
	for name := range reqs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
