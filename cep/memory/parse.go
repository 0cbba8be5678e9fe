package memory

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultAlias binds the current event in filters.
const DefaultAlias = "event"

var (
	identRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	typeNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
)

type statement struct {
	props []string // nil selects all properties
	from  string
	alias string
	where string
}

type step struct {
	alias  string
	key    string // alias, or the type name when untagged
	typ    string
	filter string
}

type pattern struct {
	every bool
	steps []step
}

// parseStatement parses
//
//	select <*|prop[, prop]...> from <Type> [as <alias>] [where <cel>]
func parseStatement(expr string) (statement, error) {
	s := strings.TrimSpace(expr)
	rest, ok := cutKeyword(s, "select")
	if !ok {
		return statement{}, syntaxError(expr, "expected select")
	}
	i := indexKeyword(rest, "from")
	if i < 0 {
		return statement{}, syntaxError(expr, "expected from")
	}
	proj := strings.TrimSpace(rest[:i])
	rest = rest[i+len("from"):]

	var stmt statement
	if j := indexKeyword(rest, "where"); j >= 0 {
		stmt.where = strings.TrimSpace(rest[j+len("where"):])
		if stmt.where == "" {
			return statement{}, syntaxError(expr, "empty where clause")
		}
		rest = rest[:j]
	}

	fields := strings.Fields(rest)
	switch {
	case len(fields) == 1:
		stmt.from = fields[0]
		stmt.alias = DefaultAlias
	case len(fields) == 3 && strings.EqualFold(fields[1], "as"):
		stmt.from = fields[0]
		stmt.alias = fields[2]
	default:
		return statement{}, syntaxError(expr, "expected <Type> [as <alias>] after from")
	}
	if !typeNameRe.MatchString(stmt.from) {
		return statement{}, syntaxError(expr, fmt.Sprintf("invalid event type %q", stmt.from))
	}
	if !identRe.MatchString(stmt.alias) {
		return statement{}, syntaxError(expr, fmt.Sprintf("invalid alias %q", stmt.alias))
	}

	switch proj {
	case "":
		return statement{}, syntaxError(expr, "empty select list")
	case "*":
	default:
		for _, p := range strings.Split(proj, ",") {
			p = strings.TrimSpace(p)
			if !identRe.MatchString(p) {
				return statement{}, syntaxError(expr, fmt.Sprintf("invalid property %q", p))
			}
			stmt.props = append(stmt.props, p)
		}
	}
	return stmt, nil
}

// parsePattern parses
//
//	[every] step (-> step)*    step = [alias=]Type[(<cel>)]
func parsePattern(expr string) (pattern, error) {
	s := strings.TrimSpace(expr)
	var pat pattern
	if rest, ok := cutKeyword(s, "every"); ok {
		pat.every = true
		s = rest
	} else if strings.EqualFold(s, "every") {
		return pattern{}, syntaxError(expr, "expected step after every")
	}

	parts, err := splitSteps(s)
	if err != nil {
		return pattern{}, syntaxError(expr, err.Error())
	}

	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		st, err := parseStep(part)
		if err != nil {
			return pattern{}, syntaxError(expr, err.Error())
		}
		if seen[st.key] {
			return pattern{}, syntaxError(expr, fmt.Sprintf("duplicate tag %q, tag repeated types with alias=Type", st.key))
		}
		seen[st.key] = true
		pat.steps = append(pat.steps, st)
	}
	return pat, nil
}

func parseStep(s string) (step, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return step{}, fmt.Errorf("empty step")
	}

	var st step
	head := s
	if i := strings.IndexByte(s, '('); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return step{}, fmt.Errorf("unterminated filter in %q", s)
		}
		head = strings.TrimSpace(s[:i])
		st.filter = strings.TrimSpace(s[i+1 : len(s)-1])
		if st.filter == "" {
			return step{}, fmt.Errorf("empty filter in %q", s)
		}
	}

	if alias, typ, ok := strings.Cut(head, "="); ok {
		st.alias = strings.TrimSpace(alias)
		st.typ = strings.TrimSpace(typ)
		if !identRe.MatchString(st.alias) {
			return step{}, fmt.Errorf("invalid alias %q", st.alias)
		}
		if st.alias == DefaultAlias {
			return step{}, fmt.Errorf("alias %q is reserved", DefaultAlias)
		}
		st.key = st.alias
	} else {
		st.typ = head
		st.key = head
	}
	if !typeNameRe.MatchString(st.typ) {
		return step{}, fmt.Errorf("invalid event type %q", st.typ)
	}
	return st, nil
}

// splitSteps splits on "->" outside parentheses and string literals.
func splitSteps(s string) ([]string, error) {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == '\\' {
				i++
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case r == '-' && depth == 0 && i+1 < len(runes) && runes[i+1] == '>':
			parts = append(parts, string(runes[start:i]))
			start = i + 2
			i++
		}
	}
	if depth != 0 || quote != 0 {
		return nil, fmt.Errorf("unbalanced parentheses or quotes")
	}
	return append(parts, string(runes[start:])), nil
}

// cutKeyword removes a leading case-insensitive keyword followed by
// whitespace.
func cutKeyword(s, kw string) (string, bool) {
	if len(s) <= len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return s, false
	}
	if !unicode.IsSpace(rune(s[len(kw)])) {
		return s, false
	}
	return s[len(kw):], true
}

// indexKeyword returns the index of the first case-insensitive occurrence of
// kw delimited by whitespace, or -1.
func indexKeyword(s, kw string) int {
	lower := strings.ToLower(s)
	for off := 0; ; {
		i := strings.Index(lower[off:], kw)
		if i < 0 {
			return -1
		}
		i += off
		end := i + len(kw)
		before := i == 0 || unicode.IsSpace(rune(s[i-1]))
		after := end == len(s) || unicode.IsSpace(rune(s[end]))
		if before && after {
			return i
		}
		off = end
	}
}

func syntaxError(expr, msg string) error {
	return fmt.Errorf("%w: %s in %q", ErrSyntax, msg, expr)
}
