package uci

import (
	"strings"
)

// Assignment is one parsed line of `uci show` output.
type Assignment struct {
	// Package is the first path element.
	Package string

	// Section is the section id.
	Section string

	// Option is the option key, empty for a `pkg.id=type` declaration.
	Option string

	// Value is the unquoted right-hand side.
	Value string

	// Items holds the elements of a `'a' 'b'` list literal. Nil for scalars.
	Items []string
}

// ParseAssignment parses a single `pkg.id=type` or `pkg.id.key=value` line.
// It reports false for blank or malformed lines.
func ParseAssignment(line string) (Assignment, bool) {
	line = strings.TrimSpace(line)
	path, raw, ok := strings.Cut(line, "=")
	if !ok {
		return Assignment{}, false
	}
	parts := strings.SplitN(strings.TrimSpace(path), ".", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Assignment{}, false
	}
	if strings.ContainsAny(path, " \t") {
		return Assignment{}, false
	}

	a := Assignment{Package: parts[0], Section: parts[1]}
	if len(parts) == 3 {
		if parts[2] == "" {
			return Assignment{}, false
		}
		a.Option = parts[2]
	}

	raw = strings.TrimSpace(raw)
	if items, isList := splitListLiteral(raw); isList {
		a.Items = items
		a.Value = strings.Join(items, " ")
		return a, true
	}
	a.Value = Unquote(raw)
	return a, true
}

// Unquote strips one matching pair of single or double quotes and undoes the
// escaping uci applies to single quotes inside a single-quoted value.
func Unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' || first == '"') && first == last {
			s = s[1 : len(s)-1]
			if first == '\'' {
				s = strings.ReplaceAll(s, `'\''`, `'`)
			}
		}
	}
	return s
}

// splitListLiteral recognizes the `'a' 'b' 'c'` form uci uses to print list
// options on one line.
func splitListLiteral(raw string) ([]string, bool) {
	if !strings.HasPrefix(raw, "'") || !strings.Contains(raw, "' '") || strings.Contains(raw, `\'`) {
		return nil, false
	}
	var items []string
	rest := raw
	for rest != "" {
		if rest[0] != '\'' {
			return nil, false
		}
		end := strings.IndexByte(rest[1:], '\'')
		if end < 0 {
			return nil, false
		}
		items = append(items, rest[1:end+1])
		rest = strings.TrimLeft(rest[end+2:], " ")
	}
	return items, len(items) > 1
}

// Parse converts `uci show` output into a Table. Malformed lines are skipped.
// Repeated option lines accumulate into a list value in order.
//
// The first package seen names the table; lines of other packages are
// ignored.
func Parse(text string) *Table {
	t := NewTable("")
	for _, line := range strings.Split(text, "\n") {
		a, ok := ParseAssignment(line)
		if !ok {
			continue
		}
		if t.Package == "" {
			t.Package = a.Package
		}
		if a.Package != t.Package {
			continue
		}
		if a.Option == "" {
			t.Ensure(a.Section, a.Value)
			continue
		}
		sec := t.Ensure(a.Section, "")
		if a.Items != nil {
			for _, item := range a.Items {
				sec.add(a.Option, item)
			}
			continue
		}
		sec.add(a.Option, a.Value)
	}
	return t
}

// ParseShowValue returns the value of the first option found in the output
// of `uci show pkg.id.key`. Output without an option line (for example
// "uci: Entry not found") yields the zero Value.
func ParseShowValue(output string) Value {
	t := Parse(output)
	for _, s := range t.Sections() {
		for _, key := range s.Order {
			return s.Options[key]
		}
	}
	return Value{}
}

// ParseValue is ParseShowValue flattened to a string.
func ParseValue(output string) string {
	return ParseShowValue(output).String()
}

// Quote wraps v in single quotes for use in a shell command.
func Quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// Format renders t in `uci show` notation: one declaration line per section
// followed by one line per scalar option or list item.
func Format(t *Table) string {
	var b strings.Builder
	for _, s := range t.Sections() {
		b.WriteString(t.Package + "." + s.ID + "=" + s.Type + "\n")
		for _, key := range s.Order {
			prefix := t.Package + "." + s.ID + "." + key + "="
			for _, item := range s.Options[key].items {
				b.WriteString(prefix + Quote(item) + "\n")
			}
		}
	}
	return b.String()
}
