package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/config"
	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatCSV  = "csv"
	outputFormatText = "text"
)

func validateFormat(format string) error {
	if format != outputFormatText && format != outputFormatJSON {
		return fmt.Errorf("unsupported output format: %s (must be text or json)", format)
	}
	return nil
}

func newRunner(cfg *config.Config, logger *slog.Logger, opts ...decoder.Option) *decoder.Runner {
	opts = append([]decoder.Option{
		decoder.WithDecodeOptions(cfg.ToDecodeOptions()),
		decoder.WithLogger(logger),
	}, opts...)
	return decoder.NewRunner(barcode.NewBackend(), opts...)
}

func newCheckinClient(cfg *config.Config, logger *slog.Logger) (*checkin.Client, error) {
	client, err := checkin.NewClient(checkin.Config{
		Endpoint: cfg.Checkin.Endpoint,
		Token:    cfg.Checkin.Token,
		Timeout:  cfg.CheckinTimeout(),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create check-in client: %w", err)
	}
	return client, nil
}

// applyCheckinFlags copies --event, --endpoint and --token over cfg when set.
func applyCheckinFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("event") {
		cfg.Checkin.EventID, _ = cmd.Flags().GetString("event")
	}
	if cmd.Flags().Changed("endpoint") {
		cfg.Checkin.Endpoint, _ = cmd.Flags().GetString("endpoint")
	}
	if cmd.Flags().Changed("token") {
		cfg.Checkin.Token, _ = cmd.Flags().GetString("token")
	}
}

func addCheckinFlags(cmd *cobra.Command) {
	cmd.Flags().String("event", "", "event id to check in against (overrides checkin.event_id)")
	cmd.Flags().String("endpoint", "", "check-in endpoint URL (overrides checkin.endpoint)")
	cmd.Flags().String("token", "", "bearer token for the check-in endpoint")
}

// resultReport is the printable form of one check-in result.
type resultReport struct {
	Source    string                 `json:"source,omitempty"`
	Payload   string                 `json:"payload,omitempty"`
	Strategy  string                 `json:"strategy,omitempty"`
	Outcome   checkin.Outcome        `json:"outcome"`
	Message   string                 `json:"message"`
	Detail    string                 `json:"detail,omitempty"`
	Volunteer *checkin.VolunteerInfo `json:"volunteer,omitempty"`
	Event     *checkin.EventInfo     `json:"event,omitempty"`
}

func newResultReport(source, payload string, res checkin.Result) resultReport {
	return resultReport{
		Source:    source,
		Payload:   payload,
		Strategy:  res.Strategy,
		Outcome:   res.Outcome,
		Message:   res.Message,
		Detail:    res.Detail,
		Volunteer: res.Volunteer,
		Event:     res.Event,
	}
}

func writeResult(w io.Writer, format string, r resultReport) error {
	if format == outputFormatJSON {
		return json.NewEncoder(w).Encode(r)
	}

	var b strings.Builder
	if r.Source != "" {
		fmt.Fprintf(&b, "%s: ", r.Source)
	}
	fmt.Fprintf(&b, "[%s] %s", r.Outcome, r.Message)
	if r.Volunteer != nil && r.Volunteer.Name != "" {
		fmt.Fprintf(&b, " (%s)", r.Volunteer.Name)
	}
	if r.Detail != "" {
		fmt.Fprintf(&b, "\n  %s", r.Detail)
	}
	if r.Payload != "" {
		fmt.Fprintf(&b, "\n  payload: %s", r.Payload)
	}
	if r.Strategy != "" {
		fmt.Fprintf(&b, "\n  strategy: %s", r.Strategy)
	}
	_, err := fmt.Fprintln(w, b.String())
	return err
}

var errCheckinNotSuccessful = errors.New("check-in was not successful")
