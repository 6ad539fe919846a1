// Package cli implements the extraction command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if getOutputFormat(rootCmd) == outputJSON {
			errObj := map[string]any{"error": err.Error()}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host   string
		output string
	)

	rootCmd := &cobra.Command{
		Use:           "extraction",
		Short:         "Fisheries extraction and aggregation engine",
		Long:          "Runs extraction formats, publishes aggregation products and serves the admin API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("EXTRACTION_HOST"); v != "" {
					host = v
				}
			}
			if output == "" {
				output = defaultOutputFormat(term.IsTerminal(int(os.Stdout.Fd()))) //nolint:gosec // fd fits in int
			}
			return validateOutputFormat(output)
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "admin API URL (cache commands)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "output format (table, json); table on a terminal, json otherwise")

	client := NewClient(host)
	hostFn := func() (*Client, error) {
		if err := validateHostURL(host); err != nil {
			return nil, err
		}
		client.SetBaseURL(host)
		return client, nil
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newProductsCmd())
	rootCmd.AddCommand(newCacheCmd(hostFn))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}
