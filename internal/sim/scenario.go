package sim

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dantte-lp/hcsim/internal/units"
)

// FuncCall is one `name(arg,arg,...)` step of a dot-separated command path.
type FuncCall struct {
	Name string
	Args []string
}

// Line is one parsed scenario line: an optional schedule time and the
// command path to run, dot-joined (e.g. "A.testApplication.send").
type Line struct {
	Number  int
	HasTime bool
	Time    units.Time
	Path    []FuncCall
}

// ParseScenario reads r line by line, stripping comments and blank lines,
// and returns the parsed command lines in file order. A line holding only a
// time prefix is kept with an empty path, so its time still extends the run.
func ParseScenario(r io.Reader) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(r)
	num := 0
	for scanner.Scan() {
		num++
		raw := stripComment(scanner.Text())
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		line, err := parseLine(num, raw)
		if err != nil {
			return nil, err
		}
		if len(line.Path) == 0 && !line.HasTime {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return lines, nil
}

// stripComment drops everything from the first unquoted '#' onward.
func stripComment(s string) string {
	inQuote := false
	for i, r := range s {
		switch r {
		case '\'':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return s[:i]
			}
		}
	}
	return s
}

func parseLine(num int, s string) (Line, error) {
	line := Line{Number: num}

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return line, &ScenarioError{Line: num, Msg: "unterminated '[' time prefix"}
		}
		t, err := units.ParseTime(s[1:end], units.Millisecond)
		if err != nil {
			return line, &ScenarioError{Line: num, Msg: err.Error()}
		}
		line.HasTime = true
		line.Time = t
		s = strings.TrimSpace(s[end+1:])
	}

	if s == "" {
		return line, nil
	}

	path, err := parseCommandPath(num, s)
	if err != nil {
		return line, err
	}
	line.Path = path
	return line, nil
}

// parseCommandPath splits s on '.' at depth zero (outside any '()' or
// quoted span) into a sequence of func() steps.
func parseCommandPath(num int, s string) ([]FuncCall, error) {
	var calls []FuncCall
	depth := 0
	inQuote := false
	start := 0
	for i, r := range s {
		switch r {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote && depth > 0 {
				depth--
			}
		case '.':
			if !inQuote && depth == 0 {
				call, err := parseFuncCall(num, s[start:i])
				if err != nil {
					return nil, err
				}
				calls = append(calls, call)
				start = i + 1
			}
		}
	}
	call, err := parseFuncCall(num, s[start:])
	if err != nil {
		return nil, err
	}
	calls = append(calls, call)
	return calls, nil
}

func parseFuncCall(num int, s string) (FuncCall, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "" {
			return FuncCall{}, &ScenarioError{Line: num, Msg: "empty function name"}
		}
		return FuncCall{Name: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return FuncCall{}, &ScenarioError{Line: num, Msg: fmt.Sprintf("unterminated argument list in %q", s)}
	}
	name := strings.TrimSpace(s[:open])
	if name == "" {
		return FuncCall{}, &ScenarioError{Line: num, Msg: "empty function name"}
	}
	body := s[open+1 : len(s)-1]
	args, err := splitArgs(num, body)
	if err != nil {
		return FuncCall{}, err
	}
	return FuncCall{Name: name, Args: args}, nil
}

// splitArgs splits body on ',' at depth zero, honoring quoted spans, and
// unquotes any 'quoted' argument.
func splitArgs(num int, body string) ([]string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	var args []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range body {
		switch r {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote && depth > 0 {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				args = append(args, unquote(strings.TrimSpace(body[start:i])))
				start = i + 1
			}
		}
	}
	if inQuote {
		return nil, &ScenarioError{Line: num, Msg: fmt.Sprintf("unterminated quote in argument list %q", body)}
	}
	args = append(args, unquote(strings.TrimSpace(body[start:])))
	return args, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}
