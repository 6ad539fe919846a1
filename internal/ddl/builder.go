// Package ddl builds the small set of statements the engine issues on its own:
// table drops, row counts, scans and row deletion on staging tables.
package ddl

import (
	"fmt"
	"strings"
)

// DropTable returns: DROP TABLE IF EXISTS "<table>".
func DropTable(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(table)), nil
}

// CountRows returns: SELECT COUNT(*) FROM "<table>".
func CountRows(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdentifier(table)), nil
}

// SelectAll returns: SELECT * FROM "<table>".
func SelectAll(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("SELECT * FROM %s", QuoteIdentifier(table)), nil
}

// SelectDistinct returns the distinct non-null values of one column, sorted,
// capped at limit rows when limit > 0.
func SelectDistinct(table, column string, limit int) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", fmt.Errorf("invalid column name: %w", err)
	}
	col := QuoteIdentifier(column)
	stmt := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		col, QuoteIdentifier(table), col, col)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	return stmt, nil
}

// DeleteNotMatching returns a DELETE removing every row for which predicate
// is not true. Rows where predicate evaluates to NULL are removed too.
func DeleteNotMatching(table, predicate string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if predicate == "" {
		return "", fmt.Errorf("predicate is required")
	}
	return fmt.Sprintf("DELETE FROM %s WHERE NOT COALESCE((%s), FALSE)", QuoteIdentifier(table), predicate), nil
}

// SelectColumns returns: SELECT [DISTINCT] "c1", "c2" FROM "<table>" [LIMIT n].
// An empty column list selects *.
func SelectColumns(table string, columns []string, distinct bool, limit int) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	proj := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			if err := ValidateIdentifier(c); err != nil {
				return "", fmt.Errorf("invalid column name %q: %w", c, err)
			}
			quoted[i] = QuoteIdentifier(c)
		}
		proj = strings.Join(quoted, ", ")
	}
	stmt := "SELECT "
	if distinct {
		stmt += "DISTINCT "
	}
	stmt += proj + " FROM " + QuoteIdentifier(table)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	return stmt, nil
}
