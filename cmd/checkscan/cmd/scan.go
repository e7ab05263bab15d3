package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/checkscan/internal/capture"
	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/notify"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a scan session",
	Long:  `Run a live scan session against the check-in backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// scanCameraCmd drives a camera session from recorded frames.
var scanCameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Scan tickets from a camera feed",
	Long: `Start a camera scan session and check in every ticket that shows up in the
feed. Frames are replayed from a directory of images in name order, paced at
the configured frame rate. After each result the feed resumes with the next
frame, the way a door camera keeps looking at the queue.

The session ends when the feed runs out, when --max-scans results have been
shown, or on Ctrl-C.

Examples:
  checkscan scan camera --frames ./frames --event EVT-7
  checkscan scan camera --frames ./frames --loop --max-scans 0 --bell
  checkscan scan camera --frames ./frames --frame-rate 5 --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		framesDir, _ := cmd.Flags().GetString("frames")
		if framesDir == "" {
			return errors.New("--frames is required")
		}
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		maxScans, _ := cmd.Flags().GetInt("max-scans")
		if maxScans < 0 {
			return fmt.Errorf("invalid --max-scans: %d (must not be negative)", maxScans)
		}
		loop, _ := cmd.Flags().GetBool("loop")

		cfg := *GetConfig()
		applyCheckinFlags(cmd, &cfg)
		if cmd.Flags().Changed("frame-rate") {
			cfg.Capture.FrameRate, _ = cmd.Flags().GetInt("frame-rate")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.RequireCheckin(); err != nil {
			return err
		}

		logger := slog.Default()
		client, err := newCheckinClient(&cfg, logger)
		if err != nil {
			return err
		}

		timings := cfg.ToTimings()
		if cmd.Flags().Changed("delay") {
			timings.ProcessingDelay, _ = cmd.Flags().GetDuration("delay")
		}
		var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
		if bell, _ := cmd.Flags().GetBool("bell"); bell {
			notifier = notify.Multi(notifier, notify.NewBellNotifier(cmd.ErrOrStderr()))
		}

		sess, err := session.New(session.Config{
			Capture: &capture.Config{
				Device:        &capture.DirDevice{Dir: framesDir, Loop: loop, Logger: logger},
				Settings:      cfg.ToCaptureSettings(),
				DecodeOptions: cfg.ToDecodeOptions(),
				ReadyTimeout:  cfg.Capture.ReadyTimeout,
				Logger:        logger,
			},
			Submitter: client,
			EventID:   cfg.Checkin.EventID,
			Notifier:  notifier,
			Timings:   &timings,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		defer func() { _ = sess.Close() }()

		results, finished := watchSession(sess)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := sess.Start(ctx); err != nil {
			return fmt.Errorf("failed to start camera: %w", err)
		}
		logger.Info("Scanning", "frames", framesDir, "event_id", cfg.Checkin.EventID)

		out := cmd.OutOrStdout()
		shown := 0
		for {
			select {
			case r := <-results:
				shown++
				if err := writeResult(out, format, r); err != nil {
					return err
				}
				if maxScans > 0 && shown >= maxScans {
					logger.Info("Scan limit reached", "scans", shown)
					return nil
				}
			case <-finished:
				// Results published just before the feed ended are still queued.
				for {
					select {
					case r := <-results:
						if err := writeResult(out, format, r); err != nil {
							return err
						}
					default:
						logger.Info("Camera feed ended", "scans", shown)
						return nil
					}
				}
			case <-ctx.Done():
				logger.Info("Interrupted", "scans", shown)
				sess.Stop()
				return nil
			}
		}
	},
}

// watchSession reports every shown result, and closes finished once the
// session is back in Idle with the camera off after having scanned.
func watchSession(sess *session.Session) (<-chan resultReport, <-chan struct{}) {
	results := make(chan resultReport, 64)
	finished := make(chan struct{})

	var last session.Mode
	started, done := false, false
	sess.Subscribe(func(st session.State) {
		if st.Mode == session.ShowingResult && last != session.ShowingResult &&
			st.Result != nil && st.Result.Outcome != checkin.OutcomeProcessing {
			select {
			case results <- newResultReport("", string(st.Payload), *st.Result):
			default:
			}
		}
		last = st.Mode
		if st.Mode == session.Scanning {
			started = true
		}
		if started && !done && st.Mode == session.Idle && !st.CameraActive && !st.Stopping {
			done = true
			close(finished)
		}
	})
	return results, finished
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanCameraCmd)
	addCheckinFlags(scanCameraCmd)
	scanCameraCmd.Flags().String("frames", "", "directory of images replayed as camera frames")
	scanCameraCmd.Flags().Bool("loop", false, "start the frame directory over when it runs out")
	scanCameraCmd.Flags().Int("max-scans", 1, "stop after this many results (0 = until the feed ends)")
	scanCameraCmd.Flags().Int("frame-rate", 10, "frames per second (overrides capture.frame_rate)")
	scanCameraCmd.Flags().Duration("delay", 0, "pause before submitting (overrides session.processing_delay)")
	scanCameraCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	scanCameraCmd.Flags().Bool("bell", false, "ring the terminal bell for each result")
}
