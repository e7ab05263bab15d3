package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/checkscan/internal/batch"
	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/MeKo-Tech/checkscan/internal/preprocess"
	"github.com/spf13/cobra"
)

// decodeCmd runs the preprocessing strategies on files without submitting.
var decodeCmd = &cobra.Command{
	Use:   "decode <file|dir>...",
	Short: "Read QR codes from images and PDF tickets",
	Long: `Run the decode strategies on files or directories of tickets and print
the payload together with the strategy that produced it. Nothing is
submitted.

Supported formats: PNG, JPEG, GIF, BMP, WebP and PDF e-tickets.

Examples:
  checkscan decode ticket.png
  checkscan decode ticket.pdf --pages 1
  checkscan decode ./tickets --recursive --format csv --stats
  checkscan decode ./tickets --include 'order-*' --exclude '*draft*'
  checkscan decode photo.jpg --strategy grayscale-threshold
  checkscan decode --list-strategies`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if list, _ := cmd.Flags().GetBool("list-strategies"); list {
			for _, p := range preprocess.Profiles() {
				_, _ = fmt.Fprintf(out, "%-20s %s\n", p.Name, describeProfile(p))
			}
			return nil
		}
		if len(args) == 0 {
			return errors.New("no input files provided")
		}

		format, _ := cmd.Flags().GetString("format")
		if format != outputFormatCSV {
			if err := validateFormat(format); err != nil {
				return err
			}
		}

		bc := batch.DefaultConfig()
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			bc.Workers = workers
		}
		bc.Recursive, _ = cmd.Flags().GetBool("recursive")
		bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
		bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
		bc.Pages, _ = cmd.Flags().GetString("pages")
		bc.Password, _ = cmd.Flags().GetString("password")

		cfg := *GetConfig()
		if cmd.Flags().Changed("try-harder") {
			cfg.Decode.TryHarder, _ = cmd.Flags().GetBool("try-harder")
		}
		var opts []decoder.Option
		if names, _ := cmd.Flags().GetString("strategy"); names != "" {
			strategies, err := parseStrategies(names)
			if err != nil {
				return err
			}
			opts = append(opts, decoder.WithStrategies(strategies))
		}
		runner := newRunner(&cfg, slog.Default(), opts...)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		res, err := batch.Decode(ctx, args, runner, bc)
		if err != nil {
			return err
		}

		text, err := res.Format(format)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprint(out, text); err != nil {
			return err
		}
		if stats, _ := cmd.Flags().GetBool("stats"); stats {
			res.WriteStats(cmd.ErrOrStderr())
		}
		if failed := res.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d files could not be decoded", failed, len(res.Items))
		}
		return nil
	},
}

func parseStrategies(csv string) ([]decoder.Strategy, error) {
	var out []decoder.Strategy
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, ok := preprocess.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown strategy: %s (see --list-strategies)", name)
		}
		out = append(out, decoder.Strategy{Name: p.Name, Profile: p})
	}
	if len(out) == 0 {
		return nil, errors.New("no strategies selected")
	}
	return out, nil
}

func describeProfile(p preprocess.Profile) string {
	var parts []string
	if p.MaxDimension > 0 {
		parts = append(parts, fmt.Sprintf("fit %dpx", p.MaxDimension))
	}
	if p.Contrast != 0 {
		parts = append(parts, fmt.Sprintf("contrast %+g", p.Contrast))
	}
	if p.Threshold {
		parts = append(parts, "grayscale threshold")
	}
	if len(parts) == 0 {
		return "image as uploaded"
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, csv)")
	decodeCmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,5 (default: all pages)")
	decodeCmd.Flags().String("password", "", "user password for encrypted PDF tickets")
	decodeCmd.Flags().String("strategy", "", "comma-separated strategies to run instead of the full order")
	decodeCmd.Flags().Bool("try-harder", true, "spend more time per decode attempt")
	decodeCmd.Flags().Bool("list-strategies", false, "print the strategy order and exit")
	decodeCmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	decodeCmd.Flags().StringSlice("include", nil, "only decode files matching these glob patterns")
	decodeCmd.Flags().StringSlice("exclude", nil, "skip files matching these glob patterns")
	decodeCmd.Flags().IntP("workers", "w", 0, "files decoded in parallel (0 = one per CPU)")
	decodeCmd.Flags().Bool("stats", false, "print run statistics to stderr")
}
