package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/declarative"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

func newProductsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Manage published products",
	}
	cmd.AddCommand(newProductsImportCmd())
	cmd.AddCommand(newProductsListCmd())
	return cmd
}

func newProductsImportCmd() *cobra.Command {
	var allowUnknown bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Register the products of a YAML file; existing labels are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := declarative.LoadProducts(args[0], declarative.LoadOptions{AllowUnknownFields: allowUnknown})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, logger, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			result, err := declarative.Import(ctx, a.Services.Products, specs, logger)
			if err != nil {
				return err
			}
			return printImportResult(cmd.OutOrStdout(), getOutputFormat(cmd), result)
		},
	}
	cmd.Flags().BoolVar(&allowUnknown, "allow-unknown-fields", false, "ignore unknown YAML fields")
	return cmd
}

func printImportResult(w io.Writer, output string, result *declarative.ImportResult) error {
	if output == outputJSON {
		return PrintJSON(w, result)
	}
	var rows [][]string
	for _, label := range result.Created {
		rows = append(rows, []string{label, "created"})
	}
	for _, label := range result.Skipped {
		rows = append(rows, []string{label, "skipped"})
	}
	PrintTable(w, []string{"label", "result"}, rows)
	return nil
}

func newProductsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, _, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			products, err := a.Services.Products.List(ctx)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), getOutputFormat(cmd), products)
		},
	}
}

func printProducts(w io.Writer, output string, products []domain.Product) error {
	if output == outputJSON {
		if products == nil {
			products = []domain.Product{}
		}
		return PrintJSON(w, products)
	}
	rows := make([][]string, len(products))
	for i, p := range products {
		refreshed := ""
		if p.RefreshedAt != nil {
			refreshed = p.RefreshedAt.Format("2006-01-02 15:04:05")
		}
		sheets := make([]string, len(p.Tables))
		for j, t := range p.Tables {
			sheets[j] = t.Sheet
		}
		rows[i] = []string{p.ID, p.Label, formatRef(p.Format), string(p.Status), string(p.Frequency), strings.Join(sheets, ","), refreshed}
	}
	PrintTable(w, []string{"id", "label", "format", "status", "frequency", "sheets", "refreshed_at"}, rows)
	return nil
}

func formatRef(ref domain.FormatRef) string {
	if ref.Version == "" {
		return ref.Label
	}
	return ref.Label + " v" + ref.Version
}
