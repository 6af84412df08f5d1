package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/securiface/internal/capture"
	"github.com/andresmejia3/securiface/internal/events"
	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/pipeline"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/andresmejia3/securiface/internal/web"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	watchAddr   string
	watchBroker string
	watchTopic  string
)

var watchCmd = &cobra.Command{
	Use:         "watch",
	Short:       "Run the recognition loop on a source until Ctrl+C",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("addr") {
			Cfg.HTTP.Addr = watchAddr
		}
		if cmd.Flags().Changed("mqtt") {
			Cfg.MQTT.Broker = watchBroker
		}
		if cmd.Flags().Changed("mqtt-topic") {
			Cfg.MQTT.Topic = watchTopic
		}
		return runWatch(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "", "Also serve the HTTP API and MJPEG stream on this address (e.g. :8080)")
	watchCmd.Flags().StringVar(&watchBroker, "mqtt", "", "Publish attendance events to this MQTT broker (e.g. tcp://localhost:1883)")
	watchCmd.Flags().StringVar(&watchTopic, "mqtt-topic", "securiface/attendance", "MQTT topic for attendance events")
	rootCmd.AddCommand(watchCmd)
}

// runWatch runs one session in the foreground: encoder, gallery, loop, then the optional HTTP and MQTT outputs.
func runWatch(ctx context.Context) error {
	sel, err := capture.ParseSelector(Cfg.Source)
	if err != nil {
		return report("Invalid source", err)
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
	fmt.Fprintf(os.Stderr, "🗂️  Gallery: %d identities from %s\n", g.Len(), Cfg.GalleryDir)

	frames := pipeline.NewFrameSlot()
	driver, err := newDriver(Cfg, provider, g, Ledger, frames)
	if err != nil {
		return report("Failed to build recognition loop", err)
	}

	ch := driver.Events().AddListener()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printAttendance(os.Stdout, ch)
	}()

	if Cfg.MQTT.Broker != "" {
		pub, err := events.NewMQTTPublisher(Cfg.MQTT.Broker, Cfg.MQTT.Topic)
		if err != nil {
			return report("Failed to connect to MQTT broker", err)
		}
		defer pub.Close()
		go pub.Run(ctx, driver.Events(), driver.Events().AddListener())
	}

	if Cfg.HTTP.Addr != "" {
		srv := web.NewServer(driver, frames, Cfg.HTTP.Addr)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("web server failed", logger.LoggerOptions{Key: "error", Data: err})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(os.Stderr, "🌐 Serving on %s (stream at /stream)\n", Cfg.HTTP.Addr)
	}

	if err := driver.Start(sel); err != nil {
		return report("Failed to start recognition loop", err)
	}
	fmt.Fprintf(os.Stderr, "👁️  Watching %s (Ctrl+C to stop)\n", sel)

	ended := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			driver.Stop()
		case <-ended:
		}
	}()

	err = driver.Wait()
	close(ended)
	driver.Events().RemoveListener(ch)
	<-printed

	if err != nil {
		return report("Recognition loop stopped", err)
	}
	fmt.Fprintln(os.Stderr, "✨ Session ended.")
	return nil
}

// printAttendance writes one line per new attendance record until ch is closed.
func printAttendance(w io.Writer, ch <-chan events.Event) {
	for ev := range ch {
		if ev.Type != events.TypeAttendance {
			continue
		}
		if rec, ok := ev.Data.(types.AttendanceRecord); ok {
			fmt.Fprintf(w, "✅ %s checked in at %s on %s\n", rec.Name, rec.Time, rec.Date)
		}
	}
}
