package declarative

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/testutil"
)

// testdataDir returns the absolute path to testdata relative to this test file.
func testdataDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	return filepath.Join(filepath.Dir(filename), "testdata")
}

func TestLoadProducts_Valid(t *testing.T) {
	specs, err := LoadProducts(filepath.Join(testdataDir(t), "products", "valid.yaml"), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	cod := specs[0]
	assert.Equal(t, "AGG-COD-2020", cod.Label)
	assert.Equal(t, "1.3", cod.Version)
	require.NotNil(t, cod.Filter)
	require.Len(t, cod.Filter.Criteria, 1)
	assert.Equal(t, domain.Criterion{Sheet: "TR", Column: "year", Operator: domain.OpEqual, Value: "2020"}, cod.Filter.Criteria[0])
	assert.Equal(t, []domain.Strata{{Sheet: "AGG_HH", TimeColumn: "quarter", SpaceColumn: "area"}}, cod.Strata)

	req, err := cod.Request()
	require.NoError(t, err)
	assert.Equal(t, domain.ProductStatusEnabled, req.Status)
	assert.Equal(t, domain.FrequencyDaily, req.Frequency)

	mon, err := specs[1].Request()
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyWeekly, mon.Frequency)
	assert.Equal(t, []string{"SIH-OBSMER"}, mon.Filter.Criteria[0].Values)
}

func TestParseProducts_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		opts    LoadOptions
		wantErr string
	}{
		{
			name:    "wrong api version",
			doc:     "apiVersion: v0\nkind: ProductList\n",
			wantErr: "unsupported apiVersion",
		},
		{
			name:    "wrong kind",
			doc:     "apiVersion: extraction/v1\nkind: Catalog\n",
			wantErr: "unexpected kind",
		},
		{
			name:    "unknown field",
			doc:     "apiVersion: extraction/v1\nkind: ProductList\nproducts:\n  - label: A\n    format: agg_rdb\n    colour: red\n",
			wantErr: "colour",
		},
		{
			name:    "missing format",
			doc:     "apiVersion: extraction/v1\nkind: ProductList\nproducts:\n  - label: A\n",
			wantErr: "format is required",
		},
		{
			name:    "bad frequency",
			doc:     "apiVersion: extraction/v1\nkind: ProductList\nproducts:\n  - label: A\n    format: agg_rdb\n    frequency: yearly\n",
			wantErr: "unknown processing frequency",
		},
		{
			name:    "bad operator",
			doc:     "apiVersion: extraction/v1\nkind: ProductList\nproducts:\n  - label: A\n    format: agg_rdb\n    filter:\n      criteria:\n        - column: year\n          operator: ~=\n          value: \"1\"\n",
			wantErr: "unsupported operator",
		},
		{
			name:    "duplicate label",
			doc:     "apiVersion: extraction/v1\nkind: ProductList\nproducts:\n  - label: A\n    format: agg_rdb\n  - label: a\n    format: monitoring\n",
			wantErr: "already declared",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProducts("products.yaml", []byte(tt.doc), tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseProducts_AllowUnknownFields(t *testing.T) {
	doc := "apiVersion: extraction/v1\nkind: ProductList\nproducts:\n  - label: A\n    format: agg_rdb\n    colour: red\n"
	specs, err := ParseProducts("products.yaml", []byte(doc), LoadOptions{AllowUnknownFields: true})
	require.NoError(t, err)
	assert.Len(t, specs, 1)
}

func TestLoadProducts_MissingFile(t *testing.T) {
	_, err := LoadProducts(filepath.Join(t.TempDir(), "nope.yaml"), LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestImport(t *testing.T) {
	specs, err := LoadProducts(filepath.Join(testdataDir(t), "products", "valid.yaml"), LoadOptions{})
	require.NoError(t, err)

	var created []*domain.Product
	repo := &testutil.MockProductRepo{
		GetByLabelFn: func(_ context.Context, label string) (*domain.Product, error) {
			if label == "MONITORING-SIH" {
				return &domain.Product{ID: "existing", Label: label}, nil
			}
			return nil, domain.ErrNotFound("product %q not found", label)
		},
		CreateFn: func(_ context.Context, p *domain.Product) (*domain.Product, error) {
			p.ID = "new"
			created = append(created, p)
			return p, nil
		},
	}

	result, err := Import(context.Background(), repo, specs, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, []string{"AGG-COD-2020"}, result.Created)
	assert.Equal(t, []string{"MONITORING-SIH"}, result.Skipped)
	require.Len(t, created, 1)
	assert.Equal(t, domain.FormatRef{Label: "agg_rdb", Version: "1.3"}, created[0].Format)
	assert.Equal(t, domain.ProductStatusEnabled, created[0].Status)
	assert.Len(t, created[0].Stratum, 1)
}

func TestImport_LookupError(t *testing.T) {
	repo := &testutil.MockProductRepo{
		GetByLabelFn: func(context.Context, string) (*domain.Product, error) {
			return nil, errors.New("database is locked")
		},
	}
	_, err := Import(context.Background(), repo, []ProductSpec{{Label: "A", Format: "agg_rdb"}}, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}
