package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/batch"
	"github.com/MeKo-Tech/checkscan/internal/benchmark"
	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench <file>",
	Short: "Time every decode strategy against a ticket image",
	Long: `Run each decode strategy against an image or PDF ticket several times and
report how long it takes and whether it finds the code. The summary shows the
strategy the decoder would stop at, the time it takes to get there in the
configured order, and the fastest strategy that reads the ticket.

Examples:
  checkscan bench blurry.jpg
  checkscan bench ticket.pdf --pages 1 --iterations 10
  checkscan bench photo.png --strategy original,grayscale-threshold --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		iterations, _ := cmd.Flags().GetInt("iterations")
		if iterations < 1 {
			return fmt.Errorf("invalid --iterations: %d (must be at least 1)", iterations)
		}
		pages, _ := cmd.Flags().GetString("pages")
		password, _ := cmd.Flags().GetString("password")
		var strategies []decoder.Strategy
		if names, _ := cmd.Flags().GetString("strategy"); names != "" {
			var err error
			if strategies, err = parseStrategies(names); err != nil {
				return err
			}
		}

		imgs, err := batch.LoadImages(args[0], pages, password)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
		}

		cfg := GetConfig()
		bench := &benchmark.StrategyBench{
			Backend:    barcode.NewBackend(),
			Options:    cfg.ToDecodeOptions(),
			Strategies: strategies,
			Iterations: iterations,
		}

		reports := make([]*benchmark.Report, 0, len(imgs))
		for i, img := range imgs {
			source := args[0]
			if len(imgs) > 1 {
				source = fmt.Sprintf("%s#%d", args[0], i+1)
			}
			report, err := bench.Run(cmd.Context(), source, img)
			if err != nil {
				return fmt.Errorf("benchmark of %s failed: %w", source, err)
			}
			reports = append(reports, report)
		}

		out := cmd.OutOrStdout()
		if format == outputFormatJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		}
		return writeBenchText(out, reports)
	},
}

func writeBenchText(w io.Writer, reports []*benchmark.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "System: %s/%s, %d CPUs, %s\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
	for _, r := range reports {
		fmt.Fprintf(&b, "\n%s (%dx%d, %d iterations)\n", r.Source, r.Width, r.Height, r.Iterations)
		fmt.Fprintln(&b, strings.Repeat("-", 60))
		for _, s := range r.Strategies {
			status := "no code"
			switch {
			case s.Err != "":
				status = "error: " + s.Err
			case s.Decoded:
				status = "decoded"
			}
			fmt.Fprintf(&b, "  %-22s avg %-12v alloc %6d KB  %s\n", s.Strategy, s.Average(), s.AllocatedBytes/1024, status)
		}
		if r.FirstHit == "" {
			fmt.Fprintln(&b, "  No strategy reads this ticket.")
			continue
		}
		fmt.Fprintf(&b, "  Decoder stops at: %s after %v\n", r.FirstHit, r.TimeToFirstHit)
		fmt.Fprintf(&b, "  Fastest reader:   %s\n", r.Fastest)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntP("iterations", "n", 5, "runs per strategy")
	benchCmd.Flags().String("strategy", "", "comma-separated strategies to time (default: all)")
	benchCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	benchCmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,5 (default: all pages)")
	benchCmd.Flags().String("password", "", "user password for encrypted PDF tickets")
}
