// Package sqltemplate compiles named SQL templates into executable statements.
//
// Template text is SQL with a small set of markers:
//
//	${name}                   bind placeholder, replaced by Request.Bindings[name]
//	{% if group %} ... {% else %} ... {% endif %}
//	{% if not group %} ... {% endif %}
//	{% inject point %}        injection point for another compiled template
//	{% hidden col1, col2 %}   columns selected for joins but not shown to clients
//	{% distinct %}            the result has DISTINCT semantics
//
// Groups default to false. Placeholders and directives inside inactive
// blocks are ignored, so a disabled group never needs its bindings.
package sqltemplate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// SuffixToken is replaced by Injection.Suffix in injected template text.
const SuffixToken = "%suffix%"

// Location is one step of a template lookup chain.
type Location struct {
	Format  string
	Version string
}

func (l Location) String() string {
	return strings.ToLower(l.Format) + "/v" + l.Version
}

// Injection splices the compiled text of Query at the injection point Point.
type Injection struct {
	Point  string
	Query  string
	Suffix string
}

// Request describes one compilation.
type Request struct {
	// Lookup is searched in order; the first location holding Query wins.
	Lookup     []Location
	Query      string
	Bindings   map[string]string
	Groups     map[string]bool
	Injections []Injection
}

// Compiled is an executable statement plus the metadata its template declared.
type Compiled struct {
	SQL           string
	HiddenColumns []string
	Distinct      bool
	// Digest is an xxh3 hash of SQL, handy for correlating logs.
	Digest string
}

// Compiler loads templates from a store and compiles them. Loaded template
// texts are memoized; a Compiler is safe for concurrent use.
type Compiler struct {
	store domain.TemplateStore

	mu    sync.RWMutex
	texts map[string]string
}

// NewCompiler creates a Compiler reading templates from store.
func NewCompiler(store domain.TemplateStore) *Compiler {
	return &Compiler{store: store, texts: make(map[string]string)}
}

type renderMeta struct {
	hidden   map[string]struct{}
	distinct bool
}

// Compile renders req.Query with its groups, injections and bindings.
func (c *Compiler) Compile(req Request) (*Compiled, error) {
	text, loc, err := c.load(req.Lookup, req.Query)
	if err != nil {
		return nil, err
	}

	meta := &renderMeta{hidden: make(map[string]struct{})}
	seen := make(map[string]bool)

	inject := func(point string) (string, error) {
		seen[point] = true
		var parts []string
		for _, inj := range req.Injections {
			if inj.Point != point {
				continue
			}
			injText, _, err := c.load(req.Lookup, inj.Query)
			if err != nil {
				return "", fmt.Errorf("injection %q: %w", inj.Query, err)
			}
			// Injected text is rendered without an injector: nested points render empty.
			rendered, err := render(injText, req.Groups, meta, nil)
			if err != nil {
				return "", fmt.Errorf("injection %q: %w", inj.Query, err)
			}
			if strings.Contains(rendered, SuffixToken) {
				if inj.Suffix == "" {
					return "", domain.ErrValidation("injection %q uses %s but no suffix was given", inj.Query, SuffixToken)
				}
				rendered = strings.ReplaceAll(rendered, SuffixToken, inj.Suffix)
			}
			parts = append(parts, rendered)
		}
		return strings.Join(parts, "\n"), nil
	}

	rendered, err := render(text, req.Groups, meta, inject)
	if err != nil {
		return nil, fmt.Errorf("template %s/%s: %w", loc, req.Query, err)
	}

	for _, inj := range req.Injections {
		if !seen[inj.Point] {
			return nil, domain.ErrValidation("template %s/%s: injection point %q not found", loc, req.Query, inj.Point)
		}
	}

	sqlText, err := bind(rendered, req.Bindings)
	if err != nil {
		return nil, fmt.Errorf("template %s/%s: %w", loc, req.Query, err)
	}

	hidden := mapKeys(meta.hidden)
	sort.Strings(hidden)
	return &Compiled{
		SQL:           sqlText,
		HiddenColumns: hidden,
		Distinct:      meta.distinct,
		Digest:        fmt.Sprintf("%016x", xxh3.HashString(sqlText)),
	}, nil
}

// load returns the text of query from the first location that has it.
func (c *Compiler) load(lookup []Location, query string) (string, Location, error) {
	if len(lookup) == 0 {
		return "", Location{}, domain.ErrValidation("template %q: empty lookup", query)
	}
	for _, loc := range lookup {
		key := loc.String() + "/" + query

		c.mu.RLock()
		text, ok := c.texts[key]
		c.mu.RUnlock()
		if ok {
			return text, loc, nil
		}

		text, err := c.store.Load(loc.Format, loc.Version, query)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return "", loc, fmt.Errorf("load template %s: %w", key, err)
		}

		c.mu.Lock()
		c.texts[key] = text
		c.mu.Unlock()
		return text, loc, nil
	}
	return "", Location{}, domain.ErrNotFound("template %q not found in %s", query, lookupString(lookup))
}

func lookupString(lookup []Location) string {
	parts := make([]string, len(lookup))
	for i, l := range lookup {
		parts[i] = l.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func render(input string, groups map[string]bool, meta *renderMeta, inject func(string) (string, error)) (string, error) {
	type frame struct {
		cond     bool
		parentOn bool
		inElse   bool
	}

	var out strings.Builder
	frames := make([]frame, 0)
	active := true

	updateActive := func() {
		active = true
		for _, f := range frames {
			if !f.parentOn {
				active = false
				return
			}
			if !f.inElse && !f.cond {
				active = false
				return
			}
			if f.inElse && f.cond {
				active = false
				return
			}
		}
	}

	i := 0
	for i < len(input) {
		if !strings.HasPrefix(input[i:], "{%") {
			if active {
				out.WriteByte(input[i])
			}
			i++
			continue
		}

		end := strings.Index(input[i+2:], "%}")
		if end < 0 {
			return "", domain.ErrValidation("unterminated control tag")
		}
		directive := strings.TrimSpace(input[i+2 : i+2+end])
		keyword, arg, _ := strings.Cut(directive, " ")
		arg = strings.TrimSpace(arg)

		switch keyword {
		case "if":
			parentActive := active
			cond := false
			if parentActive {
				v, err := evalCondition(arg, groups)
				if err != nil {
					return "", err
				}
				cond = v
			}
			frames = append(frames, frame{cond: cond, parentOn: parentActive})
			updateActive()
		case "else":
			if len(frames) == 0 {
				return "", domain.ErrValidation("unexpected else without matching if")
			}
			if frames[len(frames)-1].inElse {
				return "", domain.ErrValidation("duplicate else in same if block")
			}
			frames[len(frames)-1].inElse = true
			updateActive()
		case "endif":
			if len(frames) == 0 {
				return "", domain.ErrValidation("unexpected endif without matching if")
			}
			frames = frames[:len(frames)-1]
			updateActive()
		case "inject":
			if !isName(arg) {
				return "", domain.ErrValidation("invalid injection point %q", arg)
			}
			if active && inject != nil {
				text, err := inject(arg)
				if err != nil {
					return "", err
				}
				out.WriteString(text)
			}
		case "hidden":
			if active {
				for _, col := range strings.Split(arg, ",") {
					col = strings.TrimSpace(col)
					if !isName(col) {
						return "", domain.ErrValidation("invalid hidden column %q", col)
					}
					meta.hidden[col] = struct{}{}
				}
			}
		case "distinct":
			if active {
				meta.distinct = true
			}
		default:
			return "", domain.ErrValidation("unsupported control tag %q", directive)
		}

		i += end + 4
	}

	if len(frames) > 0 {
		return "", domain.ErrValidation("unterminated if block")
	}

	return dropBlankLines(out.String()), nil
}

func evalCondition(expr string, groups map[string]bool) (bool, error) {
	negate := false
	if rest, ok := strings.CutPrefix(expr, "not "); ok {
		negate = true
		expr = strings.TrimSpace(rest)
	}
	if !isName(expr) {
		return false, domain.ErrValidation("unsupported if condition %q", expr)
	}
	return groups[expr] != negate, nil
}

// bind replaces every ${name} with its binding. Values are written as-is and
// never re-scanned. All missing names are reported at once.
func bind(input string, bindings map[string]string) (string, error) {
	var out strings.Builder
	var missing []string

	i := 0
	for i < len(input) {
		if !strings.HasPrefix(input[i:], "${") {
			out.WriteByte(input[i])
			i++
			continue
		}
		end := strings.IndexByte(input[i+2:], '}')
		if end < 0 {
			return "", domain.ErrValidation("unterminated placeholder")
		}
		name := strings.TrimSpace(input[i+2 : i+2+end])
		if !isName(name) {
			return "", domain.ErrValidation("invalid placeholder %q", name)
		}
		if v, ok := bindings[name]; ok {
			out.WriteString(v)
		} else {
			missing = append(missing, name)
		}
		i += end + 3
	}

	if len(missing) > 0 {
		return "", domain.ErrValidation("missing binding for %s", strings.Join(dedupeSorted(missing), ", "))
	}
	return out.String(), nil
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func dropBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimRight(l, " \t\r"))
		}
	}
	return strings.Join(kept, "\n")
}

func mapKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func dedupeSorted(values []string) []string {
	clone := append([]string(nil), values...)
	sort.Strings(clone)
	out := make([]string, 0, len(clone))
	for i, v := range clone {
		if i == 0 || v != clone[i-1] {
			out = append(out, v)
		}
	}
	return out
}
