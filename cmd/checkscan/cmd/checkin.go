package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/checkscan/internal/batch"
	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/notify"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/spf13/cobra"
)

// checkinCmd runs one uploaded ticket through a file session.
var checkinCmd = &cobra.Command{
	Use:   "checkin <file>",
	Short: "Check in the ticket shown in an image or PDF",
	Long: `Decode the QR code of a ticket image or PDF e-ticket and submit it to the
check-in backend, exactly as an upload from the operator screen would.

The command exits non-zero unless the backend confirms the check-in.

Examples:
  checkscan checkin ticket.png --event EVT-7
  checkscan checkin ticket.pdf --pages 1 --format json
  checkscan checkin photo.jpg --endpoint https://example.org/api/checkin --delay 0s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		pages, _ := cmd.Flags().GetString("pages")
		password, _ := cmd.Flags().GetString("password")

		cfg := *GetConfig()
		applyCheckinFlags(cmd, &cfg)
		if err := cfg.RequireCheckin(); err != nil {
			return err
		}

		imgs, err := batch.LoadImages(args[0], pages, password)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
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
			Decoder:   newRunner(&cfg, logger),
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			_ = sess.Close()
		}()

		out, err := sess.HandleFileImages(ctx, imgs)
		if err != nil {
			return fmt.Errorf("check-in failed: %w", err)
		}
		if out.Aborted || out.Result == nil {
			return errors.New("check-in interrupted")
		}

		if err := writeResult(cmd.OutOrStdout(), format, newResultReport(args[0], out.Payload, *out.Result)); err != nil {
			return err
		}
		if out.Result.Outcome != checkin.OutcomeSuccess {
			return errCheckinNotSuccessful
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkinCmd)
	addCheckinFlags(checkinCmd)
	checkinCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	checkinCmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,5 (default: all pages)")
	checkinCmd.Flags().String("password", "", "user password for encrypted PDF tickets")
	checkinCmd.Flags().Duration("delay", 0, "pause before submitting (overrides session.processing_delay)")
	checkinCmd.Flags().Bool("bell", false, "ring the terminal bell for the result")
}
