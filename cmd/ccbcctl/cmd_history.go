package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/nerrad567/ccbc-core/internal/history"
)

func newHistoryCmd(load configLoader) *cobra.Command {
	var (
		kind  string
		since time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history <actuator>",
		Short: "Print recent events for one actuator",
		Long: `Print control transitions and operator edits for an actuator,
newest first.

Examples:
  ccbcctl history "Heater 1"
  ccbcctl history "Pump 1" --kind transition --since 2h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			filter := history.Filter{ActuatorID: args[0], Kind: kind, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			events, err := history.NewSQLiteRepository(db.DB).List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tDETAIL")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\n", ev.OccurredAt.Local().Format(time.DateTime), ev.Kind, describe(ev))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only transition or edit events")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum events")
	return cmd
}

// describe renders the kind-specific part of an event on one line.
func describe(ev history.Event) string {
	if ev.Kind == history.KindTransition {
		s := fmt.Sprintf("%s -> %s", ev.From, ev.To)
		if ev.Value != nil {
			s += fmt.Sprintf(" at %s %s", cast.ToString(*ev.Value), ev.Unit)
		}
		if ev.Reason != "" {
			s += " (" + ev.Reason + ")"
		}
		return s
	}

	parts := make([]string, 0, len(ev.Fields))
	for _, name := range sortedKeys(ev.Fields) {
		parts = append(parts, name+"="+cast.ToString(ev.Fields[name]))
	}
	s := strings.Join(parts, " ")
	if ev.Source != "" {
		s += " via " + ev.Source
	}
	if ev.Reason != "" {
		s += " [" + ev.Reason + "]"
	}
	return s
}
