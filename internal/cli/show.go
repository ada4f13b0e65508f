package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jobloop/internal/job"
)

const dateWidth = 31

func (r *root) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List jobs with their next execution time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := r.base
			opts.Offline = true
			a, err := r.openWith(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return writeJobTable(cmd.OutOrStdout(), a.Registry().All(), a.Now())
		},
	}
}

type jobRow struct {
	name, date, eta string
}

// writeJobTable prints one line per job: name, next execution time and the
// time left until then.
func writeJobTable(w io.Writer, defs []job.Definition, now time.Time) error {
	rows := make([]jobRow, 0, len(defs))
	width := len("Name")
	for _, d := range defs {
		width = max(width, len(d.Name))
		row := jobRow{name: d.Name, date: "Non recurring job.", eta: "-"}
		if d.Recurring() {
			next, ok, err := d.NextRun(now)
			if err != nil {
				return fmt.Errorf("job %s: %w", d.Name, err)
			}
			if ok {
				row.date = next.Format(time.RFC1123Z)
				row.eta = formatETA(next.Sub(now))
			} else {
				row.date = "Disabled"
			}
		}
		rows = append(rows, row)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s  %-*s  %s\n", width, "Name", dateWidth, "Next Execution Time", "ETA")
	for _, row := range rows {
		fmt.Fprintf(&b, "%-*s  %-*s  %s\n", width, row.name, dateWidth, row.date, row.eta)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// formatETA renders d as "1d 2h 3m 4s".
func formatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	return fmt.Sprintf("%dd %dh %dm %ds", days, secs/3600, secs%3600/60, secs%60)
}
