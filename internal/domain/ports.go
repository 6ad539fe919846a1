package domain

import (
	"context"
	"time"
)

// RowIterator streams the rows of a result set.
type RowIterator interface {
	Columns() []string
	Next() bool
	// Values returns the current row. The slice is only valid until the next call to Next.
	Values() []any
	Err() error
	Close() error
}

// ExecutionGateway runs compiled statements against the backing store.
// Implemented by gateway.SQL and postgres.Gateway.
type ExecutionGateway interface {
	Execute(ctx context.Context, sql string) (int64, error)
	Count(ctx context.Context, tableName string) (int64, error)
	StreamRows(ctx context.Context, tableName string) (RowIterator, error)
	Query(ctx context.Context, sql string) (RowIterator, error)
	// DropTable drops the table if it exists.
	DropTable(ctx context.Context, tableName string) error
}

// TemplateStore loads raw SQL template text by format, version and query name.
// Implementations return a *NotFoundError when the template does not exist.
type TemplateStore interface {
	Load(formatLabel, formatVersion, queryName string) (string, error)
}

// ProductRepository persists published products.
// Implemented by repository.ProductRepo.
type ProductRepository interface {
	Create(ctx context.Context, p *Product) (*Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByLabel(ctx context.Context, label string) (*Product, error)
	List(ctx context.Context) ([]Product, error)
	FindByFrequency(ctx context.Context, frequency ProcessingFrequency, statuses []ProductStatus) ([]Product, error)
	// ReplaceTables records the tables of the latest update and returns the
	// table names recorded by the previous one.
	ReplaceTables(ctx context.Context, productID string, tables []ProductTable) ([]string, error)
	MarkRefreshed(ctx context.Context, productID string, at time.Time) error
}

// ProductUpdater re-runs the aggregation of a published product.
// Implemented by aggregation.Service.
type ProductUpdater interface {
	UpdateProduct(ctx context.Context, productID string) error
}
