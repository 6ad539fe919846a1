package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

var _ domain.ProductRepository = (*ProductRepo)(nil)

// ProductRepo stores published products, their strata and their latest
// tables in SQLite.
type ProductRepo struct {
	db *sql.DB
}

// NewProductRepo creates a new ProductRepo.
func NewProductRepo(db *sql.DB) *ProductRepo {
	return &ProductRepo{db: db}
}

const productColumns = `id, label, name, format_label, format_version, status, frequency,
	filter_json, refreshed_at, created_at, updated_at`

// Create inserts a product with its strata. Missing status and frequency
// default to ENABLED and MANUALLY.
func (r *ProductRepo) Create(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	if p == nil {
		return nil, domain.ErrValidation("product is required")
	}
	if p.Label == "" || p.Format.Label == "" {
		return nil, domain.ErrValidation("product label and format are required")
	}
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if p.Status == "" {
		p.Status = domain.ProductStatusEnabled
	}
	if p.Frequency == "" {
		p.Frequency = domain.FrequencyManually
	}
	var filterJSON sql.NullString
	if p.Filter != nil {
		b, err := json.Marshal(p.Filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		filterJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, label, name, format_label, format_version, status, frequency, filter_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Label, p.Name, p.Format.Label, p.Format.Version, string(p.Status), string(p.Frequency), filterJSON)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(mapDBError(err), &conflict) {
			return nil, domain.ErrConflict("product %q already exists", p.Label)
		}
		return nil, err
	}
	for i, s := range p.Stratum {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_strata (product_id, position, sheet_name, time_column, space_column,
			                            agg_column, agg_function, tech_column)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, i, s.Sheet, s.TimeColumn, s.SpaceColumn, s.AggColumn, s.AggFunction, s.TechColumnName)
		if err != nil {
			return nil, mapDBError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.GetByID(ctx, p.ID)
}

// GetByID returns a product by ID.
func (r *ProductRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	p, err := r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "product %q not found", id)
	}
	return p, nil
}

// GetByLabel returns a product by label, case-insensitively.
func (r *ProductRepo) GetByLabel(ctx context.Context, label string) (*domain.Product, error) {
	p, err := r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE label = ?`, label)
	if err != nil {
		return nil, notFound(err, "product %q not found", label)
	}
	return p, nil
}

// List returns every product ordered by label.
func (r *ProductRepo) List(ctx context.Context) ([]domain.Product, error) {
	return r.list(ctx, `SELECT `+productColumns+` FROM products ORDER BY label`)
}

// FindByFrequency returns the products refreshed at frequency whose status
// is one of statuses, ordered by label.
func (r *ProductRepo) FindByFrequency(ctx context.Context, frequency domain.ProcessingFrequency, statuses []domain.ProductStatus) ([]domain.Product, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{string(frequency)}
	for _, s := range statuses {
		args = append(args, string(s))
	}
	return r.list(ctx, `SELECT `+productColumns+` FROM products
		WHERE frequency = ? AND status IN (`+inArgs(len(statuses))+`)
		ORDER BY label`, args...)
}

// ReplaceTables records the tables of the latest update and returns the
// table names of the previous one.
func (r *ProductRepo) ReplaceTables(ctx context.Context, productID string, tables []domain.ProductTable) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE products SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, productID)
	if err != nil {
		return nil, mapDBError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return nil, domain.ErrNotFound("product %q not found", productID)
	}

	rows, err := tx.QueryContext(ctx, `SELECT table_name FROM product_tables WHERE product_id = ? ORDER BY sheet_name`, productID)
	if err != nil {
		return nil, mapDBError(err)
	}
	var previous []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, err
		}
		previous = append(previous, name)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_tables WHERE product_id = ?`, productID); err != nil {
		return nil, mapDBError(err)
	}
	for _, t := range tables {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_tables (product_id, sheet_name, table_name, row_count, is_spatial, hidden_columns)
			VALUES (?, ?, ?, ?, ?, ?)
		`, productID, t.Sheet, t.TableName, t.RowCount, sqliteFlag(t.IsSpatial), strings.Join(t.HiddenColumns, ","))
		if err != nil {
			return nil, mapDBError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return previous, nil
}

// MarkRefreshed records the time of the latest successful update.
func (r *ProductRepo) MarkRefreshed(ctx context.Context, productID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products SET refreshed_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, at.UTC(), productID)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("product %q not found", productID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p          domain.Product
		status     string
		frequency  string
		filterJSON sql.NullString
		refreshed  sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Label, &p.Name, &p.Format.Label, &p.Format.Version, &status, &frequency,
		&filterJSON, &refreshed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = domain.ProductStatus(status)
	p.Frequency = domain.ProcessingFrequency(frequency)
	if filterJSON.Valid && filterJSON.String != "" {
		p.Filter = &domain.Filter{}
		if err := json.Unmarshal([]byte(filterJSON.String), p.Filter); err != nil {
			return nil, fmt.Errorf("unmarshal filter of %s: %w", p.Label, err)
		}
	}
	if refreshed.Valid {
		at := refreshed.Time
		p.RefreshedAt = &at
	}
	return &p, nil
}

func (r *ProductRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProductRepo) list(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, *p)
	}
	// The registry pool holds one connection: close before loading details.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadDetails(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ProductRepo) loadDetails(ctx context.Context, p *domain.Product) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sheet_name, time_column, space_column, agg_column, agg_function, tech_column
		FROM product_strata WHERE product_id = ? ORDER BY position
	`, p.ID)
	if err != nil {
		return mapDBError(err)
	}
	p.Stratum = nil
	for rows.Next() {
		var s domain.Strata
		if err := rows.Scan(&s.Sheet, &s.TimeColumn, &s.SpaceColumn, &s.AggColumn, &s.AggFunction, &s.TechColumnName); err != nil {
			_ = rows.Close()
			return err
		}
		p.Stratum = append(p.Stratum, s)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT sheet_name, table_name, row_count, is_spatial, hidden_columns
		FROM product_tables WHERE product_id = ? ORDER BY sheet_name
	`, p.ID)
	if err != nil {
		return mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck
	p.Tables = nil
	for rows.Next() {
		var (
			t       domain.ProductTable
			spatial int64
			hidden  string
		)
		if err := rows.Scan(&t.Sheet, &t.TableName, &t.RowCount, &spatial, &hidden); err != nil {
			return err
		}
		t.IsSpatial = spatial != 0
		t.HiddenColumns = splitHidden(hidden)
		p.Tables = append(p.Tables, t)
	}
	return rows.Err()
}

// notFound turns a missing row into a NotFoundError with a specific message.
func notFound(err error, format string, args ...any) error {
	mapped := mapDBError(err)
	if _, ok := mapped.(*domain.NotFoundError); ok {
		return domain.ErrNotFound(format, args...)
	}
	return mapped
}
