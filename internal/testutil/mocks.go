// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// === Product Repository Mock ===

// MockProductRepo implements domain.ProductRepository for testing.
type MockProductRepo struct {
	CreateFn          func(ctx context.Context, p *domain.Product) (*domain.Product, error)
	GetByIDFn         func(ctx context.Context, id string) (*domain.Product, error)
	GetByLabelFn      func(ctx context.Context, label string) (*domain.Product, error)
	ListFn            func(ctx context.Context) ([]domain.Product, error)
	FindByFrequencyFn func(ctx context.Context, frequency domain.ProcessingFrequency, statuses []domain.ProductStatus) ([]domain.Product, error)
	ReplaceTablesFn   func(ctx context.Context, productID string, tables []domain.ProductTable) ([]string, error)
	MarkRefreshedFn   func(ctx context.Context, productID string, at time.Time) error

	mu                   sync.Mutex
	FindByFrequencyCalls int
}

// Create implements the interface method for testing.
func (m *MockProductRepo) Create(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, p)
	}
	panic("unexpected call to MockProductRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockProductRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockProductRepo.GetByID")
}

// GetByLabel implements the interface method for testing.
func (m *MockProductRepo) GetByLabel(ctx context.Context, label string) (*domain.Product, error) {
	if m.GetByLabelFn != nil {
		return m.GetByLabelFn(ctx, label)
	}
	panic("unexpected call to MockProductRepo.GetByLabel")
}

// List implements the interface method for testing.
func (m *MockProductRepo) List(ctx context.Context) ([]domain.Product, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	panic("unexpected call to MockProductRepo.List")
}

// FindByFrequency implements the interface method for testing.
func (m *MockProductRepo) FindByFrequency(ctx context.Context, frequency domain.ProcessingFrequency, statuses []domain.ProductStatus) ([]domain.Product, error) {
	m.mu.Lock()
	m.FindByFrequencyCalls++
	m.mu.Unlock()
	if m.FindByFrequencyFn != nil {
		return m.FindByFrequencyFn(ctx, frequency, statuses)
	}
	panic("unexpected call to MockProductRepo.FindByFrequency")
}

// ReplaceTables implements the interface method for testing.
func (m *MockProductRepo) ReplaceTables(ctx context.Context, productID string, tables []domain.ProductTable) ([]string, error) {
	if m.ReplaceTablesFn != nil {
		return m.ReplaceTablesFn(ctx, productID, tables)
	}
	panic("unexpected call to MockProductRepo.ReplaceTables")
}

// MarkRefreshed implements the interface method for testing.
func (m *MockProductRepo) MarkRefreshed(ctx context.Context, productID string, at time.Time) error {
	if m.MarkRefreshedFn != nil {
		return m.MarkRefreshedFn(ctx, productID, at)
	}
	panic("unexpected call to MockProductRepo.MarkRefreshed")
}

// === Product Updater Mock ===

// MockProductUpdater implements domain.ProductUpdater for testing.
type MockProductUpdater struct {
	UpdateProductFn func(ctx context.Context, productID string) error

	mu    sync.Mutex
	Calls []string // product ids, in call order
}

// UpdateProduct implements the interface method for testing.
func (m *MockProductUpdater) UpdateProduct(ctx context.Context, productID string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, productID)
	m.mu.Unlock()
	if m.UpdateProductFn != nil {
		return m.UpdateProductFn(ctx, productID)
	}
	return nil
}

// CallsSnapshot returns a copy of the recorded calls.
func (m *MockProductUpdater) CallsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}
