package ddl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Extraction tables are named <prefix>_<sheet>_<runid>; all three parts are
// ASCII so a plain word pattern is enough.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DuckDB accepts longer names, but the registry column is sized for this.
const maxIdentifierLen = 128

// ValidateIdentifier rejects anything that could not be used unquoted as a
// table or column name.
func ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("identifier is empty")
	case len(name) > maxIdentifierLen:
		return fmt.Errorf("identifier %.16q... exceeds %d characters", name, maxIdentifierLen)
	case !identifierRe.MatchString(name):
		return fmt.Errorf("identifier %q contains characters outside [a-zA-Z0-9_]", name)
	}
	return nil
}

// QuoteIdentifier double-quotes name, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral single-quotes value, doubling embedded quotes.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// Value renders a criterion value: plain decimal numbers are emitted as-is,
// everything else (including codes with leading zeros) as a string literal.
func Value(v string) string {
	if isPlainNumber(v) {
		return v
	}
	return QuoteLiteral(v)
}

func isPlainNumber(v string) bool {
	if strings.ContainsAny(v, "xXnN_ ") {
		return false
	}
	digits := strings.TrimPrefix(v, "-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

// ValueList renders values as a comma-separated list for an IN clause.
func ValueList(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Value(v)
	}
	return strings.Join(parts, ", ")
}
