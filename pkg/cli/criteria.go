package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// criteriaValue collects repeated --criterion flags.
//
// Syntax: [SHEET:]column OP value, where OP is one of = != >= <= > < or
// one of the keywords IN, NOT IN, BETWEEN, LIKE, NULL, NOT NULL. List
// values are comma-separated.
type criteriaValue struct {
	criteria *[]domain.Criterion
}

var _ pflag.Value = (*criteriaValue)(nil)

func newCriteriaValue(p *[]domain.Criterion) *criteriaValue {
	return &criteriaValue{criteria: p}
}

func (v *criteriaValue) String() string {
	if v.criteria == nil {
		return ""
	}
	parts := make([]string, len(*v.criteria))
	for i, c := range *v.criteria {
		parts[i] = formatCriterion(c)
	}
	return strings.Join(parts, ";")
}

func (v *criteriaValue) Set(s string) error {
	c, err := parseCriterion(s)
	if err != nil {
		return err
	}
	*v.criteria = append(*v.criteria, c)
	return nil
}

func (v *criteriaValue) Type() string { return "criterion" }

// keyword operators, longest first so NOT IN wins over IN.
var keywordOperators = []domain.Operator{
	domain.OpNotNull, domain.OpNotIn, domain.OpBetween, domain.OpLike, domain.OpNull, domain.OpIn,
}

var symbolOperators = []domain.Operator{
	domain.OpNotEqual, domain.OpGreaterOrEqual, domain.OpLessOrEqual,
	domain.OpEqual, domain.OpGreater, domain.OpLess,
}

func parseCriterion(s string) (domain.Criterion, error) {
	s = strings.TrimSpace(s)
	var c domain.Criterion

	lhs, rhs, op, ok := splitKeyword(s)
	if !ok {
		lhs, rhs, op, ok = splitSymbol(s)
	}
	if !ok {
		return c, fmt.Errorf("invalid criterion %q: no operator", s)
	}

	c.Operator = op
	if sheet, column, found := strings.Cut(lhs, ":"); found {
		c.Sheet = strings.ToUpper(strings.TrimSpace(sheet))
		lhs = column
	}
	c.Column = strings.TrimSpace(lhs)
	if c.Column == "" {
		return c, fmt.Errorf("invalid criterion %q: missing column", s)
	}

	rhs = strings.TrimSpace(rhs)
	switch op {
	case domain.OpNull, domain.OpNotNull:
		if rhs != "" {
			return c, fmt.Errorf("invalid criterion %q: %s takes no value", s, op)
		}
	case domain.OpIn, domain.OpNotIn, domain.OpBetween:
		for _, v := range strings.Split(rhs, ",") {
			if v = strings.TrimSpace(v); v != "" {
				c.Values = append(c.Values, v)
			}
		}
	default:
		c.Value = rhs
	}
	return c, (&domain.Filter{Criteria: []domain.Criterion{c}}).Validate()
}

func splitKeyword(s string) (lhs, rhs string, op domain.Operator, ok bool) {
	upper := strings.ToUpper(s)
	for _, kw := range keywordOperators {
		token := " " + string(kw)
		i := strings.Index(upper, token)
		if i < 0 {
			continue
		}
		end := i + len(token)
		if end < len(upper) && upper[end] != ' ' {
			continue
		}
		return s[:i], s[end:], kw, true
	}
	return "", "", "", false
}

func splitSymbol(s string) (lhs, rhs string, op domain.Operator, ok bool) {
	best := -1
	for _, sym := range symbolOperators {
		i := strings.Index(s, string(sym))
		if i < 0 {
			continue
		}
		// Leftmost operator wins; at equal position the longer one.
		if best < 0 || i < best || (i == best && len(sym) > len(op)) {
			best, op = i, sym
		}
	}
	if best < 0 {
		return "", "", "", false
	}
	return s[:best], s[best+len(op):], op, true
}

func formatCriterion(c domain.Criterion) string {
	var b strings.Builder
	if c.Sheet != "" {
		b.WriteString(c.Sheet + ":")
	}
	b.WriteString(c.Column)
	switch c.Operator {
	case domain.OpNull, domain.OpNotNull:
		b.WriteString(" " + string(c.Operator))
	case domain.OpIn, domain.OpNotIn, domain.OpBetween, domain.OpLike:
		b.WriteString(" " + string(c.Operator) + " " + strings.Join(c.AllValues(), ","))
	default:
		b.WriteString(string(c.Operator) + c.Value)
	}
	return b.String()
}
