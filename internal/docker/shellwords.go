package docker

import (
	"fmt"
	"strings"
)

// ParseCommand tokenizes a command string into an argument vector honoring
// single quotes, double quotes, and backslash escapes. No shell is invoked;
// the resulting argv is handed directly to the exec API, so only quoting
// conventions are interpreted (no globbing, no variable expansion).
func ParseCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inWord  bool
	)

	const (
		stateNormal = iota
		stateSingle
		stateDouble
	)
	state := stateNormal
	escaped := false

	for _, r := range command {
		if escaped {
			// Inside double quotes only \" and \\ are escapes; a
			// backslash before anything else is literal.
			if state == stateDouble && r != '"' && r != '\\' {
				current.WriteRune('\\')
			}
			current.WriteRune(r)
			inWord = true
			escaped = false
			continue
		}

		switch state {
		case stateSingle:
			if r == '\'' {
				state = stateNormal
				continue
			}
			current.WriteRune(r)
		case stateDouble:
			switch r {
			case '"':
				state = stateNormal
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		default:
			switch {
			case r == '\'':
				state = stateSingle
				inWord = true
			case r == '"':
				state = stateDouble
				inWord = true
			case r == '\\':
				escaped = true
			case r == ' ' || r == '\t' || r == '\n':
				if inWord {
					args = append(args, current.String())
					current.Reset()
					inWord = false
				}
			default:
				current.WriteRune(r)
				inWord = true
			}
		}
	}

	if escaped {
		return nil, fmt.Errorf("trailing backslash in command: %q", command)
	}
	if state != stateNormal {
		return nil, fmt.Errorf("unterminated quote in command: %q", command)
	}
	if inWord {
		args = append(args, current.String())
	}

	return args, nil
}

// QuoteArg wraps a string in single quotes for safe interpolation into a
// shell command line, escaping embedded single quotes.
func QuoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
