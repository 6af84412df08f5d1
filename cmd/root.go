package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/config"
	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/store"
	"github.com/andresmejia3/securiface/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds the persistent flags shared by every subcommand.
// Only flags the user actually set override the loaded configuration.
type Options struct {
	GalleryDir     string
	Source         string
	CaptureBackend string
	NthFrame       int
	Scale          float64
	Tolerance      float64
	EncoderBackend string
	ModelsDir      string
	EncoderCmd     string
	CNN            bool
	StoreDriver    string
	StoreDSN       string
	LogLevel       string
	Verbose        bool
}

// needsLedger marks commands that read or write attendance.
const needsLedger = "ledger"

var (
	// Cfg is the resolved configuration, available once PersistentPreRunE has run.
	Cfg *config.Config
	// Ledger is the attendance store shared by subcommands annotated with needsLedger.
	Ledger attendance.Ledger

	cfgFile  string
	rootOpts Options
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "securiface",
	Short:   "Live face recognition attendance from a camera or stream",
	Version: Version,
	// Execute prints errors itself, once.
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyFlags(cmd.Flags(), rootOpts, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		Cfg = cfg

		if cmd.Annotations[needsLedger] == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		Ledger, err = store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("failed to open attendance store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Ledger != nil {
			if err := Ledger.Close(); err != nil {
				logger.Warning("closing attendance store", logger.LoggerOptions{Key: "error", Data: err})
			}
		}
		logger.Sync()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !isReported(err) {
			utils.ShowError("Command failed", err, nil)
		}
		os.Exit(1)
	}
}

// reportedError is an error that has already been shown to the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// report shows err in an error box and marks it so Execute does not print it again.
func report(context string, err error) error {
	utils.ShowError(context, err, nil)
	return reportedError{err}
}

func isReported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

func init() {
	cobra.OnInitialize(loadDotEnv)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	f.StringVar(&rootOpts.GalleryDir, "gallery", "images_", "Directory of reference face images, one identity per file")
	f.StringVarP(&rootOpts.Source, "source", "s", "0", "Camera index (0-63) or rtsp/http stream URL")
	f.StringVar(&rootOpts.CaptureBackend, "capture", "ffmpeg", "Capture backend (ffmpeg, opencv)")
	f.IntVarP(&rootOpts.NthFrame, "nth-frame", "n", 4, "Analyze every Nth frame")
	f.Float64Var(&rootOpts.Scale, "scale", 0.25, "Down-scale factor applied before detection")
	f.Float64VarP(&rootOpts.Tolerance, "tolerance", "t", 0.5, "Face matching tolerance (lower is stricter)")
	f.StringVar(&rootOpts.EncoderBackend, "encoder", "dlib", "Face encoder (dlib, worker)")
	f.StringVar(&rootOpts.ModelsDir, "models", "models", "dlib model directory")
	f.StringVar(&rootOpts.EncoderCmd, "encoder-cmd", "", "Sidecar encoder command line (worker encoder)")
	f.BoolVar(&rootOpts.CNN, "cnn", false, "Use the CNN face detector")
	f.StringVar(&rootOpts.StoreDriver, "store", "sqlite", "Attendance store (sqlite, postgres, redis, memory)")
	f.StringVar(&rootOpts.StoreDSN, "dsn", "attendance.db", "Attendance store path or connection string")
	f.StringVar(&rootOpts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.BoolVar(&rootOpts.Verbose, "verbose", false, "Human readable development logs")
}

// loadDotEnv picks up a .env file in the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to load .env: %v\n", err)
	}
}

// applyFlags copies the flags the user set onto cfg.
func applyFlags(flags *pflag.FlagSet, opts Options, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("gallery", func() { cfg.GalleryDir = opts.GalleryDir })
	set("source", func() { cfg.Source = opts.Source })
	set("capture", func() { cfg.Capture.Backend = opts.CaptureBackend })
	set("nth-frame", func() { cfg.Sampling.Interval = opts.NthFrame })
	set("scale", func() { cfg.Sampling.Scale = opts.Scale })
	set("tolerance", func() { cfg.Matching.Tolerance = opts.Tolerance })
	set("encoder", func() { cfg.Encoder.Backend = opts.EncoderBackend })
	set("models", func() { cfg.Encoder.ModelsDir = opts.ModelsDir })
	set("encoder-cmd", func() { cfg.Encoder.Command = opts.EncoderCmd })
	set("cnn", func() { cfg.Encoder.CNN = opts.CNN })
	set("store", func() { cfg.Store.Driver = opts.StoreDriver })
	set("dsn", func() { cfg.Store.DSN = opts.StoreDSN })
	set("log-level", func() { cfg.Log.Level = opts.LogLevel })
	set("verbose", func() { cfg.Log.Development = opts.Verbose })
}
