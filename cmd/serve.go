package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/securiface/internal/events"
	"github.com/andresmejia3/securiface/internal/pipeline"
	"github.com/andresmejia3/securiface/internal/web"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the HTTP API; sessions are started and stopped through it",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("addr") || Cfg.HTTP.Addr == "" {
			Cfg.HTTP.Addr = serveAddr
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
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

	frames := pipeline.NewFrameSlot()
	driver, err := newDriver(Cfg, provider, g, Ledger, frames)
	if err != nil {
		return report("Failed to build recognition loop", err)
	}

	if Cfg.MQTT.Broker != "" {
		pub, err := events.NewMQTTPublisher(Cfg.MQTT.Broker, Cfg.MQTT.Topic)
		if err != nil {
			return report("Failed to connect to MQTT broker", err)
		}
		defer pub.Close()
		go pub.Run(ctx, driver.Events(), driver.Events().AddListener())
	}

	srv := web.NewServer(driver, frames, Cfg.HTTP.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	fmt.Fprintf(os.Stderr, "🌐 Serving %d identities on %s\n", g.Len(), Cfg.HTTP.Addr)

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	if driver.Stop() == nil {
		driver.Wait()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if err != nil {
		return report("Web server failed", err)
	}
	return nil
}
