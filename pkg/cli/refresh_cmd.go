package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/refresh"
)

func newRefreshCmd() *cobra.Command {
	var frequency string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Update every enabled product of a processing frequency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := domain.ParseFrequency(frequency)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, logger, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			scheduler := refresh.NewScheduler(a.Services.Products, a.Services.Aggregation, nil, logger)
			result, err := scheduler.RefreshExclusive(ctx, f)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == outputJSON {
				if err := PrintJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				PrintTable(cmd.OutOrStdout(), []string{"frequency", "succeeded", "failed"}, [][]string{{
					string(result.Frequency), strconv.Itoa(result.Succeeded), strconv.Itoa(result.Failed),
				}})
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d product(s) failed to refresh", result.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "", "HOURLY, DAILY, WEEKLY or MONTHLY (required)")
	_ = cmd.MarkFlagRequired("frequency")
	return cmd
}
