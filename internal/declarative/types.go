// Package declarative loads published products from YAML files and imports
// them into the product registry.
package declarative

import "github.com/sumaris-net/sumaris-pod-sub009/internal/domain"

// SupportedAPIVersion is the apiVersion accepted in product files.
const SupportedAPIVersion = "extraction/v1"

// KindProductList is the kind of a product file.
const KindProductList = "ProductList"

// ProductListDoc is a YAML document listing products.
type ProductListDoc struct {
	APIVersion string        `yaml:"apiVersion"`
	Kind       string        `yaml:"kind"`
	Products   []ProductSpec `yaml:"products"`
}

// ProductSpec declares one published product.
type ProductSpec struct {
	Label     string          `yaml:"label"`
	Name      string          `yaml:"name,omitempty"`
	Format    string          `yaml:"format"`
	Version   string          `yaml:"version,omitempty"`
	Status    string          `yaml:"status,omitempty"`
	Frequency string          `yaml:"frequency,omitempty"`
	Filter    *domain.Filter  `yaml:"filter,omitempty"`
	Strata    []domain.Strata `yaml:"strata,omitempty"`
}

// Request converts the YAML entry into a validated create request.
func (s ProductSpec) Request() (*domain.CreateProductRequest, error) {
	req := &domain.CreateProductRequest{
		Label:   s.Label,
		Name:    s.Name,
		Format:  domain.FormatRef{Label: s.Format, Version: s.Version},
		Status:  domain.ProductStatus(upper(s.Status)),
		Filter:  s.Filter,
		Stratum: s.Strata,
	}
	if s.Frequency != "" {
		f, err := domain.ParseFrequency(s.Frequency)
		if err != nil {
			return nil, err
		}
		req.Frequency = f
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
