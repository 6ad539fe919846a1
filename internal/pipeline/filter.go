package pipeline

import (
	"strings"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/ddl"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// cleanPredicate builds the row predicate of the unconsumed criteria that
// apply to sheet. Criteria without a sheet apply to the filter's target sheet.
// ok is false when no criterion applies.
func cleanPredicate(pc *Context, sheet string) (pred string, ok bool, err error) {
	f := pc.Filter
	if f == nil {
		return "", false, nil
	}
	isTarget := f.Sheet != "" && strings.EqualFold(f.Sheet, sheet)

	var parts []string
	for i, c := range f.Criteria {
		if pc.isConsumed(i) {
			continue
		}
		if !strings.EqualFold(c.Sheet, sheet) && !(c.Sheet == "" && isTarget) {
			continue
		}
		expr, err := criterionSQL(c)
		if err != nil {
			return "", false, err
		}
		parts = append(parts, "("+expr+")")
	}
	if len(parts) == 0 {
		return "", false, nil
	}

	sep := " AND "
	if f.IsOr() {
		sep = " OR "
	}
	return strings.Join(parts, sep), true, nil
}

// criterionSQL renders one criterion. Values are always string literals;
// the store casts them to the column type.
func criterionSQL(c domain.Criterion) (string, error) {
	if err := ddl.ValidateIdentifier(c.Column); err != nil {
		return "", domain.ErrValidation("criterion column %q: %v", c.Column, err)
	}
	col := ddl.QuoteIdentifier(strings.ToLower(c.Column))
	values := c.AllValues()

	switch c.Operator {
	case domain.OpNull:
		return col + " IS NULL", nil
	case domain.OpNotNull:
		return col + " IS NOT NULL", nil
	case domain.OpIn, domain.OpNotIn:
		if len(values) == 0 {
			return "", domain.ErrValidation("criterion %s %s requires values", c.Column, c.Operator)
		}
		return col + " " + string(c.Operator) + " (" + literalList(values) + ")", nil
	case domain.OpBetween:
		if len(c.Values) != 2 {
			return "", domain.ErrValidation("criterion %s BETWEEN requires two values", c.Column)
		}
		return col + " BETWEEN " + ddl.QuoteLiteral(c.Values[0]) + " AND " + ddl.QuoteLiteral(c.Values[1]), nil
	case domain.OpEqual, domain.OpGreater, domain.OpGreaterOrEqual, domain.OpLess, domain.OpLessOrEqual, domain.OpLike:
		if len(values) == 0 {
			return "", domain.ErrValidation("criterion %s %s requires a value", c.Column, c.Operator)
		}
		return col + " " + string(c.Operator) + " " + ddl.QuoteLiteral(values[0]), nil
	case domain.OpNotEqual:
		if len(values) == 0 {
			return "", domain.ErrValidation("criterion %s != requires a value", c.Column)
		}
		return col + " <> " + ddl.QuoteLiteral(values[0]), nil
	default:
		return "", domain.ErrValidation("unsupported operator %q on %s", c.Operator, c.Column)
	}
}

func literalList(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = ddl.QuoteLiteral(v)
	}
	return strings.Join(parts, ", ")
}
