// internal/sequence/step.go
package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxWait bounds a single wait directive
const DefaultMaxWait = time.Hour

// Kind classifies a sequence step
type Kind int

const (
	KindCommand Kind = iota
	KindWait
	KindIf
	KindElse
	KindEndIf
	KindStopIfNot
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindWait:
		return "wait"
	case KindIf:
		return "if"
	case KindElse:
		return "else"
	case KindEndIf:
		return "endif"
	case KindStopIfNot:
		return "stop_if_not"
	default:
		return "unknown"
	}
}

// Condition names a flag, optionally negated
type Condition struct {
	Flag   string
	Negate bool
}

// Step is one parsed sequence line
type Step struct {
	Kind      Kind
	Text      string
	Wait      time.Duration
	Condition Condition
}

// ParseStep classifies one expanded line. Keywords are case-insensitive.
func ParseStep(line string, maxWait time.Duration) (Step, error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return Step{}, fmt.Errorf("%w: empty step", ErrInvalidStep)
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	switch strings.ToLower(text) {
	case "else":
		return Step{Kind: KindElse, Text: text}, nil
	case "endif":
		return Step{Kind: KindEndIf, Text: text}, nil
	case "wait", "if", "stop_if_not":
		return Step{}, fmt.Errorf("%w: %q needs an argument", ErrInvalidStep, text)
	}

	if rest, ok := cutKeyword(text, "wait"); ok {
		seconds, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return Step{}, fmt.Errorf("%w: %q: wait needs a number of seconds", ErrInvalidStep, text)
		}
		d := time.Duration(seconds * float64(time.Second))
		if seconds < 0 || d > maxWait {
			return Step{}, fmt.Errorf("%w: %q: wait must be between 0 and %s", ErrInvalidStep, text, maxWait)
		}
		return Step{Kind: KindWait, Text: text, Wait: d}, nil
	}

	if rest, ok := cutKeyword(text, "stop_if_not"); ok {
		cond, err := parseCondition(rest)
		if err != nil {
			return Step{}, fmt.Errorf("%w: %q: %v", ErrInvalidStep, text, err)
		}
		return Step{Kind: KindStopIfNot, Text: text, Condition: cond}, nil
	}

	if rest, ok := cutKeyword(text, "if"); ok {
		cond, err := parseCondition(rest)
		if err != nil {
			return Step{}, fmt.Errorf("%w: %q: %v", ErrInvalidStep, text, err)
		}
		return Step{Kind: KindIf, Text: text, Condition: cond}, nil
	}

	return Step{Kind: KindCommand, Text: text}, nil
}

// Parse classifies every line and checks that conditional blocks pair up
func Parse(lines []string, maxWait time.Duration) ([]Step, error) {
	steps := make([]Step, 0, len(lines))
	var open []bool // per open if: whether else was seen

	for i, line := range lines {
		step, err := ParseStep(line, maxWait)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		switch step.Kind {
		case KindIf:
			open = append(open, false)
		case KindElse:
			if len(open) == 0 {
				return nil, fmt.Errorf("step %d: %w: else without if", i+1, ErrUnbalanced)
			}
			if open[len(open)-1] {
				return nil, fmt.Errorf("step %d: %w: duplicate else", i+1, ErrUnbalanced)
			}
			open[len(open)-1] = true
		case KindEndIf:
			if len(open) == 0 {
				return nil, fmt.Errorf("step %d: %w: endif without if", i+1, ErrUnbalanced)
			}
			open = open[:len(open)-1]
		}
		steps = append(steps, step)
	}

	if len(open) > 0 {
		return nil, fmt.Errorf("%w: %d if block(s) not closed", ErrUnbalanced, len(open))
	}
	return steps, nil
}

// parseCondition accepts "name", "!name" and "flag:name"
func parseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	var cond Condition
	if strings.HasPrefix(s, "!") {
		cond.Negate = true
		s = strings.TrimSpace(s[1:])
	}
	if len(s) >= 5 && strings.EqualFold(s[:5], "flag:") {
		s = strings.TrimSpace(s[5:])
	}
	if s == "" || strings.ContainsAny(s, " \t") {
		return Condition{}, fmt.Errorf("condition needs a single flag name")
	}
	cond.Flag = s
	return cond, nil
}

// cutKeyword splits "keyword rest" case-insensitively. The keyword must be
// followed by whitespace and a non-empty remainder.
func cutKeyword(text, keyword string) (string, bool) {
	if len(text) <= len(keyword) || !strings.EqualFold(text[:len(keyword)], keyword) {
		return "", false
	}
	if c := text[len(keyword)]; c != ' ' && c != '\t' {
		return "", false
	}
	rest := strings.TrimSpace(text[len(keyword):])
	return rest, rest != ""
}
