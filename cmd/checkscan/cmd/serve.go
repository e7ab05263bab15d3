package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan server for the operator screen",
	Long: `Start an HTTP server that runs one scan session for an operator screen.

The server provides the following endpoints:
  GET  /health      - Health check endpoint
  GET  /scan/state  - Current session state
  POST /scan/start  - Start camera scanning (optional body {"eventId": "..."})
  POST /scan/stop   - Stop camera scanning
  POST /scan/file   - Upload a ticket image or PDF (multipart field "image")
  GET  /scan/ws     - WebSocket for camera frames, state and cues
  GET  /metrics     - Prometheus metrics

Examples:
  checkscan serve --endpoint https://example.org/api/checkin
  checkscan serve --port 8080 --event EVT-7
  checkscan serve --host 0.0.0.0 --uploads-per-minute 0`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get configuration from centralized system (includes CLI flags, config file, env vars, and defaults)
		cfg := *GetConfig()
		applyCheckinFlags(cmd, &cfg)

		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("cors-origin") {
			cfg.Server.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		if cmd.Flags().Changed("max-upload-size") {
			cfg.Server.MaxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
		}
		if cmd.Flags().Changed("shutdown-timeout") {
			cfg.Server.ShutdownTimeout, _ = cmd.Flags().GetDuration("shutdown-timeout")
		}
		if cmd.Flags().Changed("uploads-per-minute") {
			cfg.Server.UploadsPerMinute, _ = cmd.Flags().GetInt("uploads-per-minute")
		}
		if cmd.Flags().Changed("upload-burst") {
			cfg.Server.UploadBurst, _ = cmd.Flags().GetInt("upload-burst")
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Checkin.Endpoint == "" {
			return errors.New("check-in endpoint is not configured (use --endpoint or set checkin.endpoint)")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logger := slog.Default()
		timings := cfg.ToTimings()
		scanServer, err := server.NewServer(server.Config{
			CORSOrigin:       cfg.Server.CORSOrigin,
			MaxUploadMB:      int64(cfg.Server.MaxUploadMB),
			UploadsPerMinute: cfg.Server.UploadsPerMinute,
			UploadBurst:      cfg.Server.UploadBurst,
			Checkin: checkin.Config{
				Endpoint: cfg.Checkin.Endpoint,
				Token:    cfg.Checkin.Token,
				Timeout:  cfg.CheckinTimeout(),
			},
			EventID:       cfg.Checkin.EventID,
			Timings:       &timings,
			Capture:       cfg.ToCaptureSettings(),
			DecodeOptions: cfg.ToDecodeOptions(),
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = scanServer.Close() }()

		mux := http.NewServeMux()
		scanServer.SetupRoutes(mux)

		// WebSocket connections are long-lived, so there is no write timeout.
		httpServer := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			slog.Info("Starting scan server", "host", cfg.Server.Host, "port", cfg.Server.Port,
				"event_id", cfg.Checkin.EventID)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", cfg.Server.ShutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// Shutdown does not track hijacked WebSocket connections; Close ends them.
		slog.Info("Closing scan session")
		if err := scanServer.Close(); err != nil {
			slog.Error("Session cleanup error", "error", err)
		}

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addCheckinFlags(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	serveCmd.Flags().Int("uploads-per-minute", 30, "file uploads allowed per minute per client (0 disables limiting)")
	serveCmd.Flags().Int("upload-burst", 5, "file uploads a client may make at once")
}
