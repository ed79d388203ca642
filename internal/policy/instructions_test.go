package policy

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func testPolicy() *CommandPolicy {
	noFlags := []string{}
	disabled := false
	return &CommandPolicy{
		Description: "pnpm package manager",
		RootFlags:   []string{"--version"},
		GlobalFlagsBeforeSubcommand: map[string]bool{
			"--filter": true,
		},
		Subcommands: map[string]*SubcommandSpec{
			"install": {
				AllowedFlags: &[]string{"--frozen-lockfile"},
				RequireFlags: map[string]RequireSpec{
					"--frozen-lockfile": {Present: true},
				},
			},
			"publish": {Enabled: &disabled},
			"run": {
				Scripts: map[string]*SubcommandSpec{
					"build": {AllowedFlags: &noFlags, SuppressSuccessOutput: true},
					"test":  {AllowTestPaths: true},
				},
			},
		},
		DenySubcommands: []string{"exec", "dlx"},
	}
}

func TestRenderInstructions(t *testing.T) {
	text := RenderInstructions("pnpm", testPolicy(), 0)

	for _, want := range []string{
		"## pnpm",
		"pnpm package manager",
		"Root flags: --version",
		"--filter <value>",
		"pnpm install (flags: --frozen-lockfile; requires --frozen-lockfile)",
		"pnpm publish: disabled",
		"pnpm run build (no flags)",
		"pnpm run test (paths must stay inside the workspace)",
		"Never use: dlx, exec",
		"Example: pnpm install",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("instructions missing %q in:\n%s", want, text)
		}
	}
}

func TestRenderInstructionsTruncates(t *testing.T) {
	text := RenderInstructions("pnpm", testPolicy(), 40)
	if len(text) != 40 {
		t.Errorf("truncated length = %d, want 40", len(text))
	}
	if !strings.HasSuffix(text, Ellipsis) {
		t.Errorf("truncated text should end with %q, got %q", Ellipsis, text)
	}

	// A budget smaller than the marker still holds.
	short := RenderInstructions("pnpm", testPolicy(), 2)
	if len(short) > 2 {
		t.Errorf("len = %d exceeds the 2-byte budget: %q", len(short), short)
	}
}

func TestRenderInstructionsTruncatesOnRuneBoundary(t *testing.T) {
	pol := &CommandPolicy{
		Description: "gère les dépôts répliqués en continu",
		Flags:       map[string]*FlagSpec{"--version": nil},
	}

	for max := 10; max <= 40; max++ {
		text := RenderInstructions("réplica", pol, max)
		if len(text) > max {
			t.Errorf("max %d: len = %d exceeds budget: %q", max, len(text), text)
		}
		if !utf8.ValidString(text) {
			t.Errorf("max %d: truncation split a rune: %q", max, text)
		}
	}
}

func TestRenderInstructionsNilPolicy(t *testing.T) {
	if got := RenderInstructions("git", nil, 100); got != "" {
		t.Errorf("nil policy should render empty, got %q", got)
	}
}
