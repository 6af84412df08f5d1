package cmd

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/andresmejia3/securiface/internal/matcher"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Match the face in an image against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return report("Input file does not exist", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return report("Failed to decode image", err)
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face encoder...")
	provider, err := startProvider(ctx, Cfg)
	if err != nil {
		return report("Failed to start face encoder", err)
	}
	defer provider.Close()

	g, outcomes, err := loadGallery(Cfg, provider)
	if err != nil {
		return report("Failed to load gallery", err)
	}
	reportSkipped(outcomes)

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := provider.Detect(img)
	if err != nil {
		return report("Face encoding failed", err)
	}
	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	face := largestFace(faces)
	if len(faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}

	res := matcher.New(Cfg.Matching.Tolerance, Cfg.Matching.UnknownLabel).Match(face, g.Faces())
	if !res.Matched {
		fmt.Printf("❌ No match in gallery (%s, nearest distance %.3f).\n", res.Identity, res.Distance)
		return nil
	}
	fmt.Printf("✅ Found Match: %s (distance %.3f)\n", res.Identity, res.Distance)
	return nil
}

// largestFace picks the face with the biggest bounding box; the first wins ties.
func largestFace(faces []types.DetectedFace) types.DetectedFace {
	best := faces[0]
	maxArea := best.Box.Width() * best.Box.Height()
	for _, f := range faces[1:] {
		if area := f.Box.Width() * f.Box.Height(); area > maxArea {
			maxArea = area
			best = f
		}
	}
	return best
}
