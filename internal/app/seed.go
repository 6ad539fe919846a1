package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/declarative"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// importProducts creates the products of a declarative file that are not
// registered yet. Idempotent: existing labels are left untouched.
func importProducts(ctx context.Context, repo domain.ProductRepository, path string, logger *slog.Logger) error {
	specs, err := declarative.LoadProducts(path, declarative.LoadOptions{})
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	result, err := declarative.Import(ctx, repo, specs, logger)
	if err != nil {
		return fmt.Errorf("import products: %w", err)
	}
	logger.Info("products file applied", "path", path, "created", len(result.Created), "skipped", len(result.Skipped))
	return nil
}
