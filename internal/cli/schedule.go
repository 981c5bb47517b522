package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aura-signage/backend/internal/models"
	"github.com/aura-signage/backend/internal/schedule"
	"github.com/aura-signage/backend/internal/videocache"
)

func newScheduleCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Evaluate a YAML advertisement list",
	}
	cmd.AddCommand(newScheduleEvalCommand(env), newScheduleUpcomingCommand(env))
	return cmd
}

func newScheduleEvalCommand(env Env) *cobra.Command {
	var file, at string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Print the ads eligible at a moment, in play order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := parseAt(at, env.Now)
			if err != nil {
				return err
			}
			ads, err := schedule.LoadFile(file)
			if err != nil {
				return err
			}
			return printAds(cmd.OutOrStdout(), schedule.Matching(ads, now))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML advertisement list")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time, RFC3339 (default now)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newScheduleUpcomingCommand(env Env) *cobra.Command {
	var (
		file      string
		at        string
		lookahead time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Print the video ads the prefetcher would pull into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := parseAt(at, env.Now)
			if err != nil {
				return err
			}
			ads, err := schedule.LoadFile(file)
			if err != nil {
				return err
			}
			return printAds(cmd.OutOrStdout(), videocache.Upcoming(ads, now, lookahead))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML advertisement list")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time, RFC3339 (default now)")
	cmd.Flags().DurationVar(&lookahead, "lookahead", 30*time.Minute, "how far ahead to look for opening windows")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func parseAt(at string, now func() time.Time) (time.Time, error) {
	if at == "" {
		return now(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at: %w", err)
	}
	return t, nil
}

func printAds(out io.Writer, ads []models.Advertisement) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tID\tTYPE\tWINDOW\tTITLE")
	for _, ad := range ads {
		tr := ad.Schedule.TimeRange
		fmt.Fprintf(w, "%d\t%s\t%s\t%s-%s\t%s\n", ad.EffectivePriority(), ad.ID, ad.MediaType, tr.Start, tr.End, ad.Title)
	}
	return w.Flush()
}
