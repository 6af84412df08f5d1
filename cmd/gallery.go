package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/securiface/internal/gallery"
	"github.com/spf13/cobra"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Encode the gallery directory and report every file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		provider, err := startProvider(cmd.Context(), Cfg)
		if err != nil {
			return report("Failed to start face encoder", err)
		}
		defer provider.Close()

		g, outcomes, err := loadGallery(Cfg, provider)
		if err != nil {
			return report("Failed to load gallery", err)
		}
		if len(outcomes) == 0 {
			fmt.Printf("No images found in %s.\n", Cfg.GalleryDir)
			return nil
		}
		printOutcomes(os.Stdout, outcomes)
		fmt.Printf("\n%d identities loaded.\n", g.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(galleryCmd)
}

func printOutcomes(out io.Writer, outcomes []gallery.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FILE\tNAME\tSTATUS\tREASON")
	fmt.Fprintln(w, "----\t----\t------\t------")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.File, o.Name, o.Status, o.Reason)
	}
	w.Flush()
}
