// Package repository persists extraction products in the SQLite registry.
package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// sqliteFlag encodes a Go bool for an INTEGER NOT NULL column.
func sqliteFlag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// mapDBError turns driver errors into domain errors so the API layer can pick
// a status code without knowing about SQLite.
func mapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return &domain.NotFoundError{Message: "product not found"}
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return &domain.ConflictError{Message: "product already exists"}
	default:
		return err
	}
}

// inArgs renders n bind markers for an IN (...) clause.
func inArgs(n int) string {
	if n <= 0 {
		return ""
	}
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}
	return strings.Join(marks, ", ")
}

// splitHidden decodes the comma-joined hidden_columns column.
func splitHidden(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
