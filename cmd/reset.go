package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/securiface/internal/utils"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Delete every attendance record",
	Annotations: map[string]string{needsLedger: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		if !resetYes && !confirm(bufio.NewReader(os.Stdin), "⚠️  Are you sure you want to delete ALL attendance records?") {
			fmt.Println("Aborted.")
			return
		}

		fmt.Println("🗑️  Clearing attendance...")
		if err := Ledger.Reset(cmd.Context()); err != nil {
			utils.Die("Failed to reset attendance", err, nil)
		}
		fmt.Println("✨ Attendance Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
