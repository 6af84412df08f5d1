package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:         "stats",
	Short:       "Show today's attendance summary",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStats(cmd.Context(), os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// runStats loads the gallery so active faces counts only identities that actually encoded.
func runStats(ctx context.Context, out io.Writer) error {
	records, err := Ledger.QueryAll(ctx)
	if err != nil {
		return report("Failed to read attendance", err)
	}

	provider, err := startProvider(ctx, Cfg)
	if err != nil {
		return report("Failed to start face encoder", err)
	}
	defer provider.Close()

	g, _, err := loadGallery(Cfg, provider)
	if err != nil {
		return report("Failed to load gallery", err)
	}
	printSummary(out, attendance.Summarize(records, g.Len(), time.Now()))
	return nil
}

func printSummary(w io.Writer, s attendance.Summary) {
	fmt.Fprintf(w, "Today:        %d\n", s.TodayCount)
	fmt.Fprintf(w, "Last entry:   %s\n", s.LastEntryOrPlaceholder())
	fmt.Fprintf(w, "Total:        %d\n", s.TotalCount)
	fmt.Fprintf(w, "Active faces: %d\n", s.ActiveFaces)
}
