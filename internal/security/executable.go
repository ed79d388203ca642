package security

import (
	"errors"
	"regexp"
	"strings"
)

// Patterns for executable safety validation.
var (
	// shellMetachars matches metacharacters that would change meaning if the
	// value ever reached a shell. The gatekeeper never invokes a shell, but
	// rejecting them closes the door on smuggling entirely.
	shellMetachars = regexp.MustCompile("[;&|`$<>]")

	// controlChars matches newlines and carriage returns.
	controlChars = regexp.MustCompile(`[\r\n]`)

	// quoteChars matches quote characters inside an already-tokenized value.
	quoteChars = regexp.MustCompile(`["']`)

	// bareNamePattern matches safe bare executable names without paths.
	bareNamePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

	// windowsDrivePattern matches Windows drive letter paths (e.g. C:\).
	windowsDrivePattern = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

// Executable validation errors.
var (
	ErrExecutableEmpty           = errors.New("executable name is empty")
	ErrExecutableNullByte        = errors.New("executable name contains a null byte")
	ErrExecutableControlChar     = errors.New("executable name contains control characters")
	ErrExecutableShellMetachar   = errors.New("executable name contains shell metacharacters")
	ErrExecutableQuoteChar       = errors.New("executable name contains quote characters")
	ErrExecutableOptionInjection = errors.New("executable name starts with a dash")
	ErrExecutableBadBareName     = errors.New("executable name contains invalid characters")
)

// looksLikePath reports whether the value names a filesystem location rather
// than a bare command looked up on PATH.
func looksLikePath(value string) bool {
	if value == "" {
		return false
	}
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.ContainsAny(value, `/\`) {
		return true
	}
	return windowsDrivePattern.MatchString(value)
}

// SanitizeExecutable validates the root command token and returns it trimmed.
// Bare names must match [A-Za-z0-9._+-]+ and must not begin with a dash
// (option injection); path-shaped values are accepted once they pass the
// metacharacter checks.
func SanitizeExecutable(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrExecutableEmpty
	}
	if strings.Contains(trimmed, "\x00") {
		return "", ErrExecutableNullByte
	}
	if controlChars.MatchString(trimmed) {
		return "", ErrExecutableControlChar
	}
	if shellMetachars.MatchString(trimmed) {
		return "", ErrExecutableShellMetachar
	}
	if quoteChars.MatchString(trimmed) {
		return "", ErrExecutableQuoteChar
	}
	if looksLikePath(trimmed) {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", ErrExecutableOptionInjection
	}
	if !bareNamePattern.MatchString(trimmed) {
		return "", ErrExecutableBadBareName
	}
	return trimmed, nil
}
