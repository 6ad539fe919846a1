package declarative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// LoadOptions configures YAML loading behavior.
type LoadOptions struct {
	AllowUnknownFields bool
}

// LoadProducts reads and validates a product file.
func LoadProducts(path string, opts LoadOptions) ([]ProductSpec, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading user-specified config files
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseProducts(path, data, opts)
}

// ParseProducts decodes a product document. name is only used in errors.
func ParseProducts(name string, data []byte, opts LoadOptions) ([]ProductSpec, error) {
	var doc ProductListDoc
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(!opts.AllowUnknownFields)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := validateDocument(name, doc.APIVersion, doc.Kind, KindProductList); err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(doc.Products))
	for i, p := range doc.Products {
		if _, err := p.Request(); err != nil {
			return nil, fmt.Errorf("%s: products[%d]: %w", name, i, err)
		}
		key := upper(p.Label)
		if first, dup := seen[key]; dup {
			return nil, fmt.Errorf("%s: products[%d]: label %q already declared at products[%d]", name, i, p.Label, first)
		}
		seen[key] = i
	}
	return doc.Products, nil
}

// validateDocument checks the apiVersion and kind fields.
func validateDocument(path string, apiVersion, kind, expectedKind string) error {
	if apiVersion != SupportedAPIVersion {
		return fmt.Errorf("%s: unsupported apiVersion %q (expected %q)", path, apiVersion, SupportedAPIVersion)
	}
	if kind != expectedKind {
		return fmt.Errorf("%s: unexpected kind %q (expected %q)", path, kind, expectedKind)
	}
	return nil
}

// ImportResult lists the labels created and skipped by Import.
type ImportResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// Import creates the products missing from repo. Products whose label is
// already registered are left unchanged.
func Import(ctx context.Context, repo domain.ProductRepository, specs []ProductSpec, logger *slog.Logger) (*ImportResult, error) {
	result := &ImportResult{}
	for _, spec := range specs {
		req, err := spec.Request()
		if err != nil {
			return result, fmt.Errorf("product %s: %w", spec.Label, err)
		}
		_, err = repo.GetByLabel(ctx, req.Label)
		if err == nil {
			result.Skipped = append(result.Skipped, req.Label)
			continue
		}
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return result, fmt.Errorf("lookup product %s: %w", req.Label, err)
		}

		created, err := repo.Create(ctx, &domain.Product{
			Label:     req.Label,
			Name:      req.Name,
			Format:    req.Format,
			Status:    req.Status,
			Frequency: req.Frequency,
			Filter:    req.Filter,
			Stratum:   req.Stratum,
		})
		if err != nil {
			return result, fmt.Errorf("create product %s: %w", req.Label, err)
		}
		logger.Info("product imported", "product_id", created.ID, "product_label", created.Label)
		result.Created = append(result.Created, created.Label)
	}
	return result, nil
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
