package domain

import (
	"strings"
	"time"
)

// ProcessingFrequency drives how often a published product is refreshed.
type ProcessingFrequency string

// Processing frequencies.
const (
	FrequencyManually ProcessingFrequency = "MANUALLY"
	FrequencyHourly   ProcessingFrequency = "HOURLY"
	FrequencyDaily    ProcessingFrequency = "DAILY"
	FrequencyWeekly   ProcessingFrequency = "WEEKLY"
	FrequencyMonthly  ProcessingFrequency = "MONTHLY"
	FrequencyNever    ProcessingFrequency = "NEVER"
)

// ParseFrequency parses a frequency name, case-insensitively.
func ParseFrequency(s string) (ProcessingFrequency, error) {
	f := ProcessingFrequency(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case FrequencyManually, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyNever:
		return f, nil
	}
	return "", ErrValidation("unknown processing frequency %q", s)
}

// IsScheduled reports whether the frequency has a periodic trigger.
func (f ProcessingFrequency) IsScheduled() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ProductStatus is the publication status of a product.
type ProductStatus string

// Product statuses.
const (
	ProductStatusEnabled   ProductStatus = "ENABLED"
	ProductStatusTemporary ProductStatus = "TEMPORARY"
	ProductStatusDisabled  ProductStatus = "DISABLED"
)

// Strata is the spatial/temporal grouping of an aggregated sheet.
type Strata struct {
	Sheet          string `json:"sheetName" yaml:"sheet"`
	TimeColumn     string `json:"timeColumnName,omitempty" yaml:"time,omitempty"`
	SpaceColumn    string `json:"spaceColumnName,omitempty" yaml:"space,omitempty"`
	AggColumn      string `json:"aggColumnName,omitempty" yaml:"agg,omitempty"`
	AggFunction    string `json:"aggFunction,omitempty" yaml:"aggFunction,omitempty"`
	TechColumnName string `json:"techColumnName,omitempty" yaml:"tech,omitempty"`
}

// Product is a published, persisted aggregation configuration.
type Product struct {
	ID          string
	Label       string
	Name        string
	Format      FormatRef
	Status      ProductStatus
	Frequency   ProcessingFrequency
	Filter      *Filter
	Stratum     []Strata
	Tables      []ProductTable
	RefreshedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StrataForSheet returns the product strata declared for sheet, if any.
func (p *Product) StrataForSheet(sheet string) *Strata {
	for i := range p.Stratum {
		if strings.EqualFold(p.Stratum[i].Sheet, sheet) {
			return &p.Stratum[i]
		}
	}
	return nil
}

// TableForSheet returns the product table recorded for sheet, if any.
func (p *Product) TableForSheet(sheet string) *ProductTable {
	for i := range p.Tables {
		if strings.EqualFold(p.Tables[i].Sheet, sheet) {
			return &p.Tables[i]
		}
	}
	return nil
}

// ProductTable records a result table produced by the last product update.
type ProductTable struct {
	Sheet         string
	TableName     string
	RowCount      int64
	IsSpatial     bool
	HiddenColumns []string
}

// CreateProductRequest holds parameters for creating a product.
type CreateProductRequest struct {
	Label     string
	Name      string
	Format    FormatRef
	Status    ProductStatus
	Frequency ProcessingFrequency
	Filter    *Filter
	Stratum   []Strata
}

// Validate checks that the request is well-formed.
func (r *CreateProductRequest) Validate() error {
	if r.Label == "" {
		return ErrValidation("label is required")
	}
	if r.Format.Label == "" {
		return ErrValidation("format is required")
	}
	switch r.Status {
	case "", ProductStatusEnabled, ProductStatusTemporary, ProductStatusDisabled:
	default:
		return ErrValidation("invalid status %q", r.Status)
	}
	if r.Frequency != "" {
		if _, err := ParseFrequency(string(r.Frequency)); err != nil {
			return err
		}
	}
	for _, s := range r.Stratum {
		if s.Sheet == "" {
			return ErrValidation("strata sheet is required")
		}
	}
	return r.Filter.Validate()
}
