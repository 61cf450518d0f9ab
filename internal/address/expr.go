package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sigreer/ledctl/internal/ibpi"
)

// ErrSyntax marks a malformed IBPI expression
var ErrSyntax = errors.New("invalid IBPI expression")

// Kind tags the form of an expression
type Kind int

const (
	Single Kind = iota
	Group
	Pattern
	CommaList
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Group:
		return "group"
	case Pattern:
		return "pattern"
	case CommaList:
		return "list"
	}
	return "unknown"
}

// Expr is a parsed target expression. Single and Pattern carry Value,
// Group and CommaList carry Members.
type Expr struct {
	Kind    Kind
	Value   string
	Members []Expr
}

// Leaves flattens the expression into its Single and Pattern members, in
// the order they were written
func (e Expr) Leaves() []Expr {
	switch e.Kind {
	case Group, CommaList:
		var out []Expr
		for _, m := range e.Members {
			out = append(out, m.Leaves()...)
		}
		return out
	}
	return []Expr{e}
}

// Clause is one "<state>=<targets>" operand
type Clause struct {
	State   ibpi.State
	Targets Expr
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func leaf(s string) Expr {
	if isPattern(s) {
		return Expr{Kind: Pattern, Value: s}
	}
	return Expr{Kind: Single, Value: s}
}

// parseTargets parses the right hand side of a clause that is not a
// brace group
func parseTargets(s string) (Expr, error) {
	if !strings.Contains(s, ",") {
		if s == "" {
			return Expr{}, fmt.Errorf("missing target: %w", ErrSyntax)
		}
		return leaf(s), nil
	}
	list := Expr{Kind: CommaList}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Expr{}, fmt.Errorf("empty member in %q: %w", s, ErrSyntax)
		}
		list.Members = append(list.Members, leaf(part))
	}
	return list, nil
}

// Parse reads IBPI operands from the command line. Operands look like
// "locate=/dev/sda", "failure=/dev/sda,/dev/sdb" or
// "rebuild={ /dev/sda /dev/sdb }" where the group may arrive as one
// argument or split over several.
func Parse(args []string) ([]Clause, error) {
	var tokens []string
	for _, a := range args {
		tokens = append(tokens, strings.Fields(a)...)
	}

	var clauses []Clause
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		eq := strings.Index(tok, "=")
		if eq <= 0 {
			return nil, fmt.Errorf("%q: expected <pattern>=<device>: %w", tok, ErrSyntax)
		}
		state, err := ibpi.Parse(tok[:eq])
		if err != nil {
			return nil, err
		}
		rest := tok[eq+1:]

		if !strings.HasPrefix(rest, "{") {
			if rest == "" && i+1 < len(tokens) && strings.HasPrefix(tokens[i+1], "{") {
				i++
				rest = tokens[i]
			} else {
				targets, err := parseTargets(rest)
				if err != nil {
					return nil, err
				}
				clauses = append(clauses, Clause{State: state, Targets: targets})
				continue
			}
		}

		group := Expr{Kind: Group}
		member := strings.TrimPrefix(rest, "{")
		closed := false
		for {
			if strings.HasSuffix(member, "}") {
				member = strings.TrimSuffix(member, "}")
				closed = true
			}
			if member != "" {
				targets, err := parseTargets(member)
				if err != nil {
					return nil, err
				}
				group.Members = append(group.Members, targets)
			}
			if closed {
				break
			}
			i++
			if i >= len(tokens) {
				return nil, fmt.Errorf("%s: missing closing brace: %w", tok, ErrSyntax)
			}
			member = tokens[i]
		}
		if len(group.Members) == 0 {
			return nil, fmt.Errorf("%s: empty group: %w", tok, ErrSyntax)
		}
		clauses = append(clauses, Clause{State: state, Targets: group})
	}

	if len(clauses) == 0 {
		return nil, fmt.Errorf("no IBPI pattern given: %w", ErrSyntax)
	}
	return clauses, nil
}
