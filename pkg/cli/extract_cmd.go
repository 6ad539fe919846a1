package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/extraction"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/pipeline"
)

type extractOptions struct {
	format   string
	version  string
	sheet    string
	operator string
	criteria []domain.Criterion
	preview  bool
	distinct bool
	keep     bool
}

func (o *extractOptions) filter() *domain.Filter {
	return &domain.Filter{
		Criteria: o.criteria,
		Operator: o.operator,
		Sheet:    o.sheet,
		Preview:  o.preview,
		Distinct: o.distinct,
	}
}

func newExtractCmd() *cobra.Command {
	opts := &extractOptions{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run an extraction format and print a sheet",
		Long: `Runs a live extraction format against the configured gateway.

Without --sheet the produced sheets are listed with their row counts.
Criteria use the form [SHEET:]column OP value, for example:

  extraction extract --format RDB --criterion TR:year=2020 --criterion "HH:area IN 27.7.d,27.7.e"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, logger, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return runExtract(ctx, a.Services.Extraction, opts, cmd.OutOrStdout(), getOutputFormat(cmd), logger)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "", "format label, e.g. RDB (required)")
	cmd.Flags().StringVar(&opts.version, "version", "", "format version (default: latest)")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "sheet to print")
	cmd.Flags().StringVar(&opts.operator, "operator", domain.FilterAnd, "criteria combination: AND or OR")
	cmd.Flags().Var(newCriteriaValue(&opts.criteria), "criterion", "filter criterion (repeatable)")
	cmd.Flags().BoolVar(&opts.preview, "preview", false, fmt.Sprintf("stop at the sheet and print at most %d rows", extraction.PreviewLimit))
	cmd.Flags().BoolVar(&opts.distinct, "distinct", false, "print distinct rows")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "keep the staging tables of the run")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}

func runExtract(ctx context.Context, svc *extraction.Service, opts *extractOptions, w io.Writer, output string, logger *slog.Logger) error {
	ref := domain.FormatRef{Label: opts.format, Version: opts.version}
	pc, err := svc.Execute(ctx, ref, opts.filter())
	if err != nil {
		return err
	}
	if !opts.keep {
		defer func() {
			if err := svc.Clean(context.WithoutCancel(ctx), pc); err != nil {
				logger.Warn("clean extraction", "run_id", pc.ID, "error", err)
			}
		}()
	}

	if opts.sheet == "" {
		return printSheets(pc, w, output)
	}
	rows, err := svc.Read(ctx, pc, opts.sheet)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	return printRows(rows, w, output)
}

type sheetSummary struct {
	Sheet string `json:"sheet"`
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

func printSheets(pc *pipeline.Context, w io.Writer, output string) error {
	var sheets []sheetSummary
	for _, sheet := range pc.SheetNames() {
		table, _ := pc.TableNameForSheet(sheet)
		sheets = append(sheets, sheetSummary{Sheet: sheet, Table: table, Rows: pc.RowCount(table)})
	}
	if output == outputJSON {
		return PrintJSON(w, map[string]any{"run_id": pc.ID, "sheets": sheets})
	}
	rows := make([][]string, len(sheets))
	for i, s := range sheets {
		rows[i] = []string{s.Sheet, s.Table, strconv.FormatInt(s.Rows, 10)}
	}
	PrintTable(w, []string{"sheet", "table", "rows"}, rows)
	return nil
}

func printRows(it domain.RowIterator, w io.Writer, output string) error {
	columns := it.Columns()
	var rows [][]string
	var records []map[string]any
	for it.Next() {
		values := it.Values()
		if output == outputJSON {
			rec := make(map[string]any, len(columns))
			for i, c := range columns {
				v := values[i]
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				rec[c] = v
			}
			records = append(records, rec)
			continue
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		rows = append(rows, row)
	}
	if err := it.Err(); err != nil {
		return err
	}
	if output == outputJSON {
		if records == nil {
			records = []map[string]any{}
		}
		return PrintJSON(w, records)
	}
	PrintTable(w, columns, rows)
	return nil
}
