package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/securiface/internal/types"
	"github.com/andresmejia3/securiface/internal/utils"
	"github.com/spf13/cobra"
)

var logsDate string

var logsCmd = &cobra.Command{
	Use:         "logs",
	Short:       "List attendance records, newest first",
	Annotations: map[string]string{needsLedger: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		records, err := Ledger.QueryAll(cmd.Context())
		if err != nil {
			utils.Die("Failed to list attendance", err, nil)
		}
		records = filterByDate(records, logsDate)

		if len(records) == 0 {
			fmt.Println("No attendance records found.")
			return
		}
		printRecords(os.Stdout, records)
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsDate, "date", "", "Only show records for this day (YYYY-MM-DD)")
	rootCmd.AddCommand(logsCmd)
}

func filterByDate(records []types.AttendanceRecord, date string) []types.AttendanceRecord {
	if date == "" {
		return records
	}
	var out []types.AttendanceRecord
	for _, r := range records {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}

func printRecords(out io.Writer, records []types.AttendanceRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DATE\tTIME\tNAME")
	fmt.Fprintln(w, "----\t----\t----")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Date, r.Time, r.Name)
	}
	w.Flush()
}
