package cli

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

type cacheStats struct {
	Enabled bool                        `json:"enabled"`
	Caches  map[string]map[string]int64 `json:"caches"`
}

func newCacheCmd(client func() (*Client, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the caches of a running server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show per-cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var stats cacheStats
			if err := c.Do(cmd.Context(), http.MethodGet, "/v1/cache/stats", &stats); err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(cmd.OutOrStdout(), stats)
			}
			names := make([]string, 0, len(stats.Caches))
			for name := range stats.Caches {
				names = append(names, name)
			}
			sort.Strings(names)
			rows := make([][]string, len(names))
			for i, name := range names {
				s := stats.Caches[name]
				rows[i] = []string{
					name,
					strconv.FormatInt(s["entries"], 10),
					strconv.FormatInt(s["size"], 10),
					strconv.FormatInt(s["hits"], 10),
					strconv.FormatInt(s["misses"], 10),
					strconv.FormatInt(s["evictions"], 10),
				}
			}
			PrintTable(cmd.OutOrStdout(), []string{"name", "entries", "size", "hits", "misses", "evictions"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [NAME]",
		Short: "Clear one cache, or every cache without NAME",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			path := "/v1/cache"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			var resp struct {
				Cleared bool `json:"cleared"`
			}
			if err := c.Do(cmd.Context(), http.MethodDelete, path, &resp); err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(cmd.OutOrStdout(), resp)
			}
			PrintTable(cmd.OutOrStdout(), []string{"cleared"}, [][]string{{strconv.FormatBool(resp.Cleared)}})
			return nil
		},
	})
	return cmd
}
