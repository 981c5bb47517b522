package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aura-signage/backend/internal/videocache"
)

func newCacheCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Video cache commands",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List cached videos",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, release, err := env.OpenCache(cmd.Context())
				if err != nil {
					return err
				}
				defer release()
				records, err := store.ListCached(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSIZE\tCACHED AT\tURL")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.ID, r.Size, r.CachedAt.Format(time.RFC3339), r.URL)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "size",
			Short: "Print the total cached bytes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, release, err := env.OpenCache(cmd.Context())
				if err != nil {
					return err
				}
				defer release()
				size, err := store.GetCacheSize(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), size)
				return nil
			},
		},
		&cobra.Command{
			Use:   "fetch <id> <url>",
			Short: "Download a video into the cache unless already present",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, release, err := env.OpenCache(cmd.Context())
				if err != nil {
					return err
				}
				defer release()
				out := cmd.OutOrStdout()
				last := -1
				handle, err := store.EnsureCached(cmd.Context(), args[1], args[0], func(p videocache.Progress) {
					if pct := int(p.Percentage) / 10 * 10; pct > last {
						last = pct
						fmt.Fprintf(out, "%3d%% %d/%d\n", pct, p.Loaded, p.Total)
					}
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(out, handle)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <id>",
			Short: "Remove a cached video",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, release, err := env.OpenCache(cmd.Context())
				if err != nil {
					return err
				}
				defer release()
				return store.DeleteVideo(cmd.Context(), args[0])
			},
		},
		newCacheClearCommand(env),
	)
	return cmd
}

func newCacheClearCommand(env Env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			store, release, err := env.OpenCache(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			return store.ClearAll(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm removal of every cached video")
	return cmd
}
