package sqltemplate

import (
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/ddl"
)

// Literal renders s as a quoted SQL string literal.
func Literal(s string) string {
	return ddl.QuoteLiteral(s)
}

// Ident renders a quoted identifier.
func Ident(name string) string {
	return ddl.QuoteIdentifier(name)
}

// InList renders values for use inside IN (...). Plain numbers are left
// unquoted. An empty list renders NULL, which matches nothing.
func InList(values []string) string {
	if len(values) == 0 {
		return "NULL"
	}
	return ddl.ValueList(values)
}

// StringList renders values for IN (...) as string literals only, for code
// columns whose values may look numeric.
func StringList(values []string) string {
	if len(values) == 0 {
		return "NULL"
	}
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += ddl.QuoteLiteral(v)
	}
	return out
}

// Timestamp renders t as a TIMESTAMP literal in UTC.
func Timestamp(t time.Time) string {
	return "TIMESTAMP " + ddl.QuoteLiteral(t.UTC().Format("2006-01-02 15:04:05"))
}
