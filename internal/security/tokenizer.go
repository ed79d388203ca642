// Package security provides command-line tokenization and executable
// safety checks used by the gatekeeper before any process is spawned.
package security

import (
	"errors"
	"strings"
	"unicode"
)

// Tokenization errors.
var (
	ErrUnterminatedQuote  = errors.New("command contains an unterminated quote")
	ErrTrailingBackslash  = errors.New("command ends with an unfinished escape")
	ErrEmptyCommand       = errors.New("command is empty")
	ErrCommandControlChar = errors.New("command contains control characters")
)

// SplitCommand tokenizes a command string into an argv slice using simple
// quoting rules: single quotes preserve everything literally, double quotes
// allow backslash escapes for `"` and `\`, and an unquoted backslash escapes
// the next character. There is no variable expansion, globbing, or any other
// shell grammar; the result is suitable for spawning a child process directly.
func SplitCommand(command string) ([]string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil, ErrEmptyCommand
	}
	for _, r := range trimmed {
		if r == '\n' || r == '\r' || r == '\x00' {
			return nil, ErrCommandControlChar
		}
	}

	var (
		argv    []string
		current strings.Builder
		inWord  bool
	)
	flush := func() {
		if inWord {
			argv = append(argv, current.String())
			current.Reset()
			inWord = false
		}
	}

	runes := []rune(trimmed)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\':
			if i+1 >= len(runes) {
				return nil, ErrTrailingBackslash
			}
			i++
			current.WriteRune(runes[i])
			inWord = true
		case r == '\'':
			end := indexRune(runes, i+1, '\'')
			if end < 0 {
				return nil, ErrUnterminatedQuote
			}
			current.WriteString(string(runes[i+1 : end]))
			inWord = true
			i = end
		case r == '"':
			consumed, text, err := scanDoubleQuoted(runes, i+1)
			if err != nil {
				return nil, err
			}
			current.WriteString(text)
			inWord = true
			i = consumed
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	flush()

	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

// scanDoubleQuoted reads a double-quoted span starting at `start` (just past
// the opening quote) and returns the index of the closing quote.
func scanDoubleQuoted(runes []rune, start int) (int, string, error) {
	var text strings.Builder
	for i := start; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 >= len(runes) {
				return 0, "", ErrUnterminatedQuote
			}
			next := runes[i+1]
			if next == '"' || next == '\\' {
				text.WriteRune(next)
				i++
				continue
			}
			text.WriteRune('\\')
		case '"':
			return i, text.String(), nil
		default:
			text.WriteRune(runes[i])
		}
	}
	return 0, "", ErrUnterminatedQuote
}

func indexRune(runes []rune, from int, target rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}
	return -1
}
