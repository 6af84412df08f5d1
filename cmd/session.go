package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/capture"
	"github.com/andresmejia3/securiface/internal/capture/opencv"
	"github.com/andresmejia3/securiface/internal/config"
	"github.com/andresmejia3/securiface/internal/encoder"
	"github.com/andresmejia3/securiface/internal/encoder/dlib"
	"github.com/andresmejia3/securiface/internal/gallery"
	"github.com/andresmejia3/securiface/internal/matcher"
	"github.com/andresmejia3/securiface/internal/pipeline"
	"github.com/andresmejia3/securiface/internal/sampler"
	"github.com/andresmejia3/securiface/internal/worker"
)

// startProvider is swapped out in tests.
var startProvider = newProvider

// newProvider starts the configured face encoder. The caller owns Close.
func newProvider(ctx context.Context, cfg *config.Config) (encoder.Provider, error) {
	switch cfg.Encoder.Backend {
	case "worker":
		w, err := worker.NewSidecarWorker(ctx, 0, cfg.Encoder.EncoderArgs())
		if err != nil {
			return nil, fmt.Errorf("failed to start encoder worker: %w", err)
		}
		return w, nil
	default:
		r, err := dlib.New(cfg.Encoder.ModelsDir, cfg.Encoder.CNN)
		if err != nil {
			return nil, fmt.Errorf("failed to load dlib models from %s: %w", cfg.Encoder.ModelsDir, err)
		}
		return r, nil
	}
}

func newOpener(cfg *config.Config) capture.Opener {
	if cfg.Capture.Backend == "opencv" {
		return opencv.Opener{}
	}
	return capture.FFmpeg{}
}

// loadGallery encodes the gallery directory, creating it first when missing.
func loadGallery(cfg *config.Config, p encoder.Provider) (*gallery.Gallery, []gallery.Outcome, error) {
	if err := os.MkdirAll(cfg.GalleryDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating gallery dir %s: %w", cfg.GalleryDir, err)
	}
	loader := gallery.NewLoader(p)
	loader.Progress = os.Stderr
	return loader.Load(cfg.GalleryDir)
}

// newDriver wires the recognition loop from cfg and the already built collaborators.
func newDriver(cfg *config.Config, p encoder.Provider, g *gallery.Gallery, ledger attendance.Ledger, sink pipeline.Sink) (*pipeline.Driver, error) {
	s, err := sampler.New(cfg.Sampling.Interval, cfg.Sampling.Scale)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Opener:   newOpener(cfg),
		Provider: p,
		Gallery:  g,
		Sampler:  s,
		Matcher:  matcher.New(cfg.Matching.Tolerance, cfg.Matching.UnknownLabel),
		Ledger:   ledger,
		Sink:     sink,
	})
}

// reportSkipped warns about gallery files that could not be encoded.
func reportSkipped(outcomes []gallery.Outcome) {
	for _, o := range outcomes {
		if o.Status == gallery.StatusSkipped {
			fmt.Fprintf(os.Stderr, "⚠️  Skipped %s: %s\n", o.File, o.Reason)
		}
	}
}
