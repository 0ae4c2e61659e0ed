package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhang3xing1/codmate-sub000/internal/scan"
)

func calendarCmd() *cobra.Command {
	var month, dimension, changedOn string

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show sessions per day for a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dim, err := scan.ParseDimension(dimension)
			if err != nil {
				return err
			}
			first := time.Now()
			if month != "" {
				if first, err = time.ParseInLocation("2006-01", month, time.Local); err != nil {
					return fmt.Errorf("invalid month %q (want YYYY-MM)", month)
				}
			}

			ix, err := openIndex(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer ix.Close()

			if _, err := ix.Refresh(cmd.Context(), scan.Month(first, dim)); err != nil {
				return err
			}

			if changedOn != "" {
				day, err := parseDate(changedOn)
				if err != nil {
					return err
				}
				paths, err := ix.ChangedOn(cmd.Context(), day)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Println(p)
				}
				return nil
			}

			counts, err := ix.DayCounts(cmd.Context(), first.Year(), first.Month(), dim)
			if err != nil {
				return err
			}
			fmt.Print(monthGrid(first.Year(), first.Month(), counts))
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "Month to show (YYYY-MM, default current)")
	cmd.Flags().StringVar(&dimension, "dimension", "created", "Count sessions by created or updated date")
	cmd.Flags().StringVar(&changedOn, "changed-on", "", "List files whose session was updated on this day (YYYY-MM-DD)")

	return cmd
}

// monthGrid lays the counts out Monday-first, one week per line.
func monthGrid(year int, month time.Month, counts map[int]int) string {
	var b strings.Builder
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	fmt.Fprintf(&b, "%s\n", start.Format("January 2006"))
	b.WriteString(" Mo   Tu   We   Th   Fr   Sa   Su\n")

	offset := (int(start.Weekday()) + 6) % 7
	b.WriteString(strings.Repeat("     ", offset))
	days := start.AddDate(0, 1, -1).Day()
	for d := 1; d <= days; d++ {
		cell := fmt.Sprintf("%2d", d)
		if n := counts[d]; n > 0 {
			cell += fmt.Sprintf(":%-2d", n)
		} else {
			cell += "   "
		}
		b.WriteString(cell)
		if (offset+d)%7 == 0 || d == days {
			b.WriteString("\n")
		}
	}
	return b.String()
}
